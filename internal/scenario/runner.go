// Package scenario drives one beam through the DAMA on/off scenario: a
// population of terminals with on/off constant bit rate sources requesting
// capacity from the beam scheduler and contending on its random access
// channels while their buffers hold data.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/rtn-access-simulator/internal/beam"
	"github.com/signalsfoundry/rtn-access-simulator/internal/config"
	"github.com/signalsfoundry/rtn-access-simulator/internal/logging"
	"github.com/signalsfoundry/rtn-access-simulator/internal/observability"
	"github.com/signalsfoundry/rtn-access-simulator/internal/orbit"
	"github.com/signalsfoundry/rtn-access-simulator/internal/randomaccess"
	"github.com/signalsfoundry/rtn-access-simulator/internal/rng"
	"github.com/signalsfoundry/rtn-access-simulator/internal/simevent"
	"github.com/signalsfoundry/rtn-access-simulator/model"
	"github.com/signalsfoundry/rtn-access-simulator/timectrl"
)

// Summary aggregates one run.
type Summary struct {
	RunID            string        `yaml:"run_id"`
	Seed             int64         `yaml:"seed"`
	Terminals        int           `yaml:"terminals"`
	Duration         time.Duration `yaml:"duration"`
	PropagationDelay time.Duration `yaml:"propagation_delay"`

	TbtpMessages     int `yaml:"tbtp_messages"`
	DaSlots          int `yaml:"da_slots"`
	CapacityRequests int `yaml:"capacity_requests"`

	OfferedBytes       uint64         `yaml:"offered_bytes"`
	DaDeliveredBytes   uint64         `yaml:"da_delivered_bytes"`
	RaDeliveredBytes   uint64         `yaml:"ra_delivered_bytes"`
	BacklogBytes       uint64         `yaml:"backlog_bytes"`
	RaDecisions        map[string]int `yaml:"ra_decisions"`
	RaSlotsTransmitted int            `yaml:"ra_slots_transmitted"`
}

// Runner executes a scenario.
type Runner struct {
	scn      *config.Scenario
	metrics  *observability.BeamCollector
	log      logging.Logger
	realTime time.Duration
	vbdc     bool

	// Set up per run.
	seq       *model.SuperframeSequence
	clock     *timectrl.TimeController
	events    simevent.EventScheduler
	beam      *beam.Beam
	traffic   rng.Source
	cnoSrc    rng.Source
	terminals []*terminal
	byAddress map[model.Address]*terminal
	summary   Summary
	errs      []error
}

// Option customises a Runner.
type Option func(*Runner)

// WithMetrics records beam and contention metrics into m.
func WithMetrics(m *observability.BeamCollector) Option { return func(r *Runner) { r.metrics = m } }

// WithLogger sets the run logger.
func WithLogger(l logging.Logger) Option { return func(r *Runner) { r.log = logging.OrNoop(l) } }

// WithRealTime paces the run against the wall clock, advancing simulation
// time by tick per wall-clock tick.
func WithRealTime(tick time.Duration) Option { return func(r *Runner) { r.realTime = tick } }

// NewRunner validates scn and returns a runner for it.
func NewRunner(scn *config.Scenario, opts ...Option) (*Runner, error) {
	if scn == nil {
		return nil, errors.New("scenario is nil")
	}
	if err := scn.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{scn: scn, log: logging.Noop()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run simulates the scenario from its epoch for its duration.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	ctx, log := logging.WithRunLogger(ctx, r.log)
	ctx, span := observability.Tracer().Start(ctx, "scenario.run",
		trace.WithAttributes(
			attribute.Int64("scenario.seed", r.scn.Seed),
			attribute.Int("scenario.terminals", r.scn.Beam.Terminals),
		))
	defer span.End()

	if err := r.setup(ctx, log); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scenario setup failed")
		return Summary{}, err
	}
	r.summary.RunID = logging.RunIDFromContext(ctx)

	end := r.scn.Epoch.Add(r.scn.Duration)
	var err error
	if r.realTime > 0 {
		err = r.runPaced(ctx)
	} else {
		err = r.runEvents(ctx, end)
	}
	r.beam.Scheduler().Stop()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scenario interrupted")
		return r.finish(), err
	}

	summary := r.finish()
	span.SetAttributes(
		attribute.Int("tbtp.messages", summary.TbtpMessages),
		attribute.Int64("bytes.offered", int64(summary.OfferedBytes)),
	)
	log.Info(ctx, "scenario complete",
		logging.Int("terminals", summary.Terminals),
		logging.Duration("duration", summary.Duration),
		logging.Duration("propagation_delay", summary.PropagationDelay),
		logging.Int("tbtp_messages", summary.TbtpMessages),
		logging.Int("da_slots", summary.DaSlots),
		logging.Any("offered_bytes", summary.OfferedBytes),
		logging.Any("da_bytes", summary.DaDeliveredBytes),
		logging.Any("ra_bytes", summary.RaDeliveredBytes),
		logging.Any("backlog_bytes", summary.BacklogBytes),
		logging.Any("ra_decisions", summary.RaDecisions),
	)
	if err := errors.Join(r.errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scenario completed with errors")
		return summary, err
	}
	return summary, nil
}

func (r *Runner) setup(ctx context.Context, log logging.Logger) error {
	scn := r.scn
	tick := r.realTime
	mode := timectrl.RealTime
	if tick <= 0 {
		tick = time.Millisecond
		mode = timectrl.Accelerated
	}
	r.seq = scn.Sequence()
	r.clock = timectrl.NewTimeController(scn.Epoch, tick, mode)
	r.events = simevent.NewEventScheduler(r.clock)
	r.terminals = nil
	r.byAddress = make(map[model.Address]*terminal)
	r.errs = nil
	r.summary = Summary{
		Seed:        scn.Seed,
		Terminals:   scn.Beam.Terminals,
		Duration:    scn.Duration,
		RaDecisions: make(map[string]int),
	}

	attrs, err := r.attributes()
	if err != nil {
		return err
	}
	r.summary.PropagationDelay = attrs.MaxTwoWayPropagationDelay

	part := rng.NewPartitioned(rng.Seed(scn.Seed))
	r.traffic = part.ForSubsystem(rng.SubsystemTraffic)
	r.cnoSrc = part.ForSubsystem(rng.SubsystemCno)

	b, err := beam.New(r.events, beam.Config{
		ID:            scn.Beam.ID,
		Sequence:      r.seq,
		Profile:       scn.Profile(),
		MaxRcCount:    scn.Beam.MaxRcCount,
		MaxFrameBytes: scn.Beam.MaxFrameBytes,
		Send:          r.receiveTbtp,
	},
		beam.WithAttributes(attrs),
		beam.WithRNG(part.ForSubsystem(rng.SubsystemBeam(scn.Beam.ID))),
		beam.WithMetrics(r.metrics),
		beam.WithLogger(log.With(logging.Uint32("beam", scn.Beam.ID))),
	)
	if err != nil {
		return err
	}
	r.beam = b

	accessMode, err := scn.AccessMode()
	if err != nil {
		return err
	}
	damaMode, err := scn.DamaProfileKind()
	if err != nil {
		return err
	}
	r.vbdc = damaMode == config.DamaVbdc
	profile := scn.Profile()
	for i := 0; i < scn.Beam.Terminals; i++ {
		t := &terminal{address: terminalAddress(i)}
		ch, err := b.Scheduler().AddUt(t.address, profile)
		if err != nil {
			return fmt.Errorf("register terminal %s: %w", t.address, err)
		}
		t.raChannel = ch
		src := part.ForSubsystem(rng.SubsystemRandomAccess(scn.Beam.ID, t.address.String()))
		t.engine, err = b.NewAccessEngine(t.address, accessMode, src, randomaccess.WithBufferStatus(t))
		if err != nil {
			return fmt.Errorf("access engine %s: %w", t.address, err)
		}
		r.terminals = append(r.terminals, t)
		r.byAddress[t.address] = t
		r.start(t, scn.Epoch.Add(time.Duration(i)*scn.Traffic.StartStagger))
	}

	log.Info(ctx, "scenario ready",
		logging.Uint32("beam", scn.Beam.ID),
		logging.Int("terminals", len(r.terminals)),
		logging.String("dama", damaMode),
		logging.String("random_access", accessMode.String()),
		logging.Duration("propagation_delay", attrs.MaxTwoWayPropagationDelay),
	)
	return nil
}

// attributes returns the scheduler attributes, taking the propagation delay
// from the orbit when one is configured.
func (r *Runner) attributes() (beam.Attributes, error) {
	scn := r.scn
	cnoMode, err := scn.CnoEstimationMode()
	if err != nil {
		return beam.Attributes{}, err
	}
	attrs := beam.Attributes{
		CnoEstimationMode:           cnoMode,
		CnoEstimationWindow:         scn.Beam.CnoEstimationWindow,
		MaxTwoWayPropagationDelay:   scn.Beam.MaxTwoWayPropagationDelay,
		MaxTbtpTxAndProcessingDelay: scn.Beam.MaxTbtpTxAndProcessingDelay,
	}
	if scn.Orbit != nil {
		d, err := orbitDelay(scn.Orbit, scn.Epoch, scn.Duration)
		if err != nil {
			return beam.Attributes{}, fmt.Errorf("orbit delay budget: %w", err)
		}
		attrs.MaxTwoWayPropagationDelay = d
	}
	return attrs, nil
}

func orbitDelay(o *config.OrbitConfig, epoch time.Time, duration time.Duration) (time.Duration, error) {
	sat, err := orbit.NewSatelliteFromTLE(o.TleLine1, o.TleLine2)
	if err != nil {
		return 0, err
	}
	sites := make([]orbit.Site, 0, len(o.Terminals))
	for _, s := range o.Terminals {
		sites = append(sites, orbit.Site(s))
	}
	budget, err := orbit.NewDelayBudget(sat, orbit.Site(o.Gateway), sites)
	if err != nil {
		return 0, err
	}
	budget.MinElevationDeg = o.MinElevationDeg
	horizon := o.Horizon
	if horizon == 0 {
		horizon = duration
	}
	return budget.MaxTwoWayPropagationDelay(epoch, horizon, o.Step)
}

// runEvents jumps the clock from event to event until end.
func (r *Runner) runEvents(ctx context.Context, end time.Time) error {
	next, ok := r.events.(interface{ NextEventTime() (time.Time, bool) })
	if !ok {
		return errors.New("event scheduler cannot report its next event")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		at, pending := next.NextEventTime()
		if !pending || at.After(end) {
			r.clock.SetTime(end)
			return nil
		}
		if at.After(r.clock.Now()) {
			r.clock.SetTime(at)
		}
		r.events.RunDue()
	}
}

// runPaced steps the clock in real time and runs due events on every tick.
func (r *Runner) runPaced(ctx context.Context) error {
	r.clock.AddListener(func(time.Time) { r.events.RunDue() })
	return r.clock.Run(ctx, r.scn.Duration)
}

func (r *Runner) fail(err error) {
	r.errs = append(r.errs, err)
}

func (r *Runner) start(t *terminal, at time.Time) {
	r.events.Schedule(at, func() { r.switchOn(t) })
	r.events.Schedule(at, func() { r.requestCapacity(t) })
	r.events.Schedule(at, func() { r.reportCno(t) })
	r.events.Schedule(r.seq.NextSuperframeStart(0, at), func() { r.contend(t) })
}

func (r *Runner) switchOn(t *terminal) {
	tr := r.scn.Traffic
	now := r.events.Now()
	t.on = true
	off := now.Add(uniformDuration(r.traffic, tr.OnTimeMin, tr.OnTimeMax))
	r.events.Schedule(off, func() { r.switchOff(t) })
	r.arrive(t, off)
}

func (r *Runner) switchOff(t *terminal) {
	tr := r.scn.Traffic
	t.on = false
	r.events.Schedule(r.events.Now().Add(uniformDuration(r.traffic, tr.OffTimeMin, tr.OffTimeMax)), func() { r.switchOn(t) })
}

// arrive enqueues one packet and schedules the next until the on period
// ends at until.
func (r *Runner) arrive(t *terminal, until time.Time) {
	now := r.events.Now()
	if !now.Before(until) {
		return
	}
	tr := r.scn.Traffic
	t.enqueue(uint64(tr.PacketBytes))
	r.summary.OfferedBytes += uint64(tr.PacketBytes)
	r.events.Schedule(now.Add(packetInterval(tr.PacketBytes, tr.DataRateKbps)), func() { r.arrive(t, until) })
}

func (r *Runner) requestCapacity(t *terminal) {
	if req := t.nextRequest(r.vbdc, r.scn.Traffic.DataRateKbps); req != nil {
		if err := r.beam.Scheduler().UtCrReceived(t.address, req); err != nil {
			r.fail(err)
		} else {
			r.summary.CapacityRequests++
		}
	}
	r.events.Schedule(r.events.Now().Add(r.scn.Traffic.CapacityRequestsAt), func() { r.requestCapacity(t) })
}

func (r *Runner) reportCno(t *terminal) {
	c := r.scn.Cno
	v := c.MeanDbHz + rng.Uniform(r.cnoSrc, -c.SpreadDb, c.SpreadDb)
	if err := r.beam.Scheduler().UpdateUtCno(t.address, v); err != nil {
		r.fail(err)
	}
	r.events.Schedule(r.events.Now().Add(c.SampleInterval), func() { r.reportCno(t) })
}

// contend asks the access engine for a decision at every superframe start
// while the terminal holds data.
func (r *Runner) contend(t *terminal) {
	now := r.events.Now()
	r.events.Schedule(now.Add(r.scn.Superframe.Duration), func() { r.contend(t) })
	if t.buffered == 0 {
		return
	}
	res, err := t.engine.Decide(t.raChannel)
	if err != nil {
		r.fail(err)
		return
	}
	r.summary.RaDecisions[res.Kind.String()]++

	ch, err := r.beam.RandomAccessConf().Channel(t.raChannel)
	if err != nil {
		r.fail(err)
		return
	}
	payload := uint64(ch.PayloadBytes)
	switch res.Kind {
	case randomaccess.ResultCrdsa:
		slots := res.SlotCount()
		r.summary.RaSlotsTransmitted += slots
		unique := (slots + int(ch.NumOfInstances) - 1) / int(ch.NumOfInstances)
		r.summary.RaDeliveredBytes += t.drain(uint64(unique) * payload)
	case randomaccess.ResultSlottedAloha:
		r.summary.RaSlotsTransmitted++
		r.events.Schedule(now.Add(res.Delay), func() {
			r.summary.RaDeliveredBytes += t.drain(payload)
		})
	}
}

// receiveTbtp is the beam's broadcast hook. DA slots drain the assigned
// terminals' buffers at the start of the superframe the plan applies to.
func (r *Runner) receiveTbtp(msg *model.Tbtp, dest model.Address) error {
	if !dest.IsBroadcast() {
		return fmt.Errorf("unexpected TBTP destination %s", dest)
	}
	r.summary.TbtpMessages++
	r.summary.DaSlots += len(msg.DaTimeSlots)

	sf := r.seq.Superframe(0)
	grants := make(map[*terminal]uint64)
	for _, slot := range msg.DaTimeSlots {
		t, ok := r.byAddress[slot.Address]
		if !ok {
			return fmt.Errorf("TBTP assigns slot to unknown terminal %s", slot.Address)
		}
		f, err := sf.Frame(slot.FrameID)
		if err != nil {
			return err
		}
		grants[t] += uint64(f.SlotPayloadBytes)
	}
	if len(grants) == 0 {
		return nil
	}
	at := r.seq.Epoch.Add(time.Duration(msg.SuperframeCounter) * r.seq.Duration(0))
	if now := r.events.Now(); at.Before(now) {
		at = now
	}
	r.events.Schedule(at, func() {
		for t, bytes := range grants {
			r.summary.DaDeliveredBytes += t.drain(bytes)
		}
	})
	return nil
}

func (r *Runner) finish() Summary {
	s := r.summary
	s.BacklogBytes = 0
	for _, t := range r.terminals {
		s.BacklogBytes += t.buffered
	}
	decisions := make(map[string]int, len(s.RaDecisions))
	for k, v := range s.RaDecisions {
		decisions[k] = v
	}
	s.RaDecisions = decisions
	return s
}
