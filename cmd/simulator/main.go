package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/rtn-access-simulator/internal/config"
	"github.com/signalsfoundry/rtn-access-simulator/internal/logging"
	"github.com/signalsfoundry/rtn-access-simulator/internal/observability"
	"github.com/signalsfoundry/rtn-access-simulator/internal/scenario"
)

const envPrefix = "RTNSIM"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. Operational settings are read through v so
// that RTNSIM_* environment variables override flag defaults.
func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:          "rtnsim",
		Short:        "Return link DAMA and contention access simulator",
		SilenceUsage: true,
	}

	tracing := observability.TracingConfigFromEnv()
	pf := root.PersistentFlags()
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.String("metrics-addr", "", "HTTP address for Prometheus /metrics; empty disables it")
	pf.Bool("tracing-enabled", tracing.Enabled, "export scheduler and scenario spans")
	pf.String("tracing-exporter", tracing.Exporter, "span exporter: stdout or otlp")
	pf.String("tracing-endpoint", tracing.Endpoint, "OTLP gRPC endpoint")
	pf.Float64("tracing-sample-ratio", tracing.SampleRatio, "trace sampling ratio in [0, 1]")
	_ = v.BindPFlags(pf)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	root.AddCommand(newRunCmd(v), newValidateCmd())
	return root
}

func newLogger(v *viper.Viper, w io.Writer) logging.Logger {
	return logging.New(logging.Config{
		Level:  v.GetString("log-level"),
		Format: v.GetString("log-format"),
		Output: w,
	})
}

func loadScenario(path string) (*config.Scenario, error) {
	if path == "" {
		return config.Parse([]byte("{}"))
	}
	return config.Load(path)
}

func newValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario file without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			scn, err := loadScenario(path)
			if err != nil {
				return err
			}
			sf := scn.Sequence().Superframe(0)
			fmt.Fprintf(cmd.OutOrStdout(), "scenario ok: beam %d, %d terminals, %d frames, %d random access channels, dama %s\n",
				scn.Beam.ID, scn.Beam.Terminals, len(sf.Frames), sf.RaChannelCount(), scn.Dama.Mode)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "scenario YAML file (defaults to the built-in scenario)")
	return cmd
}

type runFlags struct {
	path      string
	seed      int64
	duration  time.Duration
	terminals int
	realTime  time.Duration
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			scn, err := loadScenario(f.path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				scn.Seed = f.seed
			}
			if cmd.Flags().Changed("duration") {
				scn.Duration = f.duration
			}
			if cmd.Flags().Changed("terminals") {
				scn.Beam.Terminals = f.terminals
			}
			return runScenario(cmd.Context(), v, scn, f.realTime, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.path, "config", "c", "", "scenario YAML file (defaults to the built-in scenario)")
	fl.Int64Var(&f.seed, "seed", 0, "override the scenario seed")
	fl.DurationVar(&f.duration, "duration", 0, "override the simulated duration")
	fl.IntVar(&f.terminals, "terminals", 0, "override the number of terminals")
	fl.DurationVar(&f.realTime, "realtime-tick", 0, "pace the run against the wall clock with this tick")
	return cmd
}

func runScenario(ctx context.Context, v *viper.Viper, scn *config.Scenario, realTime time.Duration, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger(v, errOut)

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     v.GetBool("tracing-enabled"),
		ServiceName: "rtn-access-simulator",
		Exporter:    v.GetString("tracing-exporter"),
		Endpoint:    v.GetString("tracing-endpoint"),
		SampleRatio: v.GetFloat64("tracing-sample-ratio"),
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	collector, err := observability.NewBeamCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if addr := v.GetString("metrics-addr"); addr != "" {
		srv := serveMetrics(addr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	opts := []scenario.Option{scenario.WithMetrics(collector), scenario.WithLogger(log)}
	if realTime > 0 {
		opts = append(opts, scenario.WithRealTime(realTime))
	}
	runner, err := scenario.NewRunner(scn, opts...)
	if err != nil {
		return err
	}
	summary, runErr := runner.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return enc.Close()
}

func serveMetrics(addr string, collector *observability.BeamCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
