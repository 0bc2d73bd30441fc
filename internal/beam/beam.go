package beam

import (
	"fmt"

	"github.com/signalsfoundry/rtn-access-simulator/internal/logging"
	"github.com/signalsfoundry/rtn-access-simulator/internal/observability"
	"github.com/signalsfoundry/rtn-access-simulator/internal/randomaccess"
	"github.com/signalsfoundry/rtn-access-simulator/internal/rng"
	"github.com/signalsfoundry/rtn-access-simulator/internal/simevent"
	"github.com/signalsfoundry/rtn-access-simulator/model"
)

// Config describes one beam.
type Config struct {
	ID            uint32
	Sequence      *model.SuperframeSequence
	Profile       model.ServiceProfile
	MaxRcCount    int
	MaxFrameBytes int
	Send          SendFunc
}

// Beam owns the scheduler of a spot beam and the random access
// configuration its terminals contend on.
type Beam struct {
	id        uint32
	seq       *model.SuperframeSequence
	scheduler *Scheduler
	raConf    *randomaccess.Conf
	metrics   *observability.BeamCollector
	log       logging.Logger
}

// New builds and initializes a beam. opts are applied to its scheduler.
func New(events simevent.EventScheduler, cfg Config, opts ...Option) (*Beam, error) {
	s := NewScheduler(events, opts...)
	if err := s.Initialize(cfg.ID, cfg.Send, cfg.Sequence, cfg.MaxRcCount, cfg.MaxFrameBytes); err != nil {
		return nil, fmt.Errorf("beam %d: %w", cfg.ID, err)
	}
	raConf, err := randomaccess.NewConf(cfg.Profile, cfg.Sequence.Superframe(0))
	if err != nil {
		s.Stop()
		return nil, fmt.Errorf("beam %d random access: %w", cfg.ID, err)
	}
	return &Beam{
		id:        cfg.ID,
		seq:       cfg.Sequence,
		scheduler: s,
		raConf:    raConf,
		metrics:   s.metrics,
		log:       s.log,
	}, nil
}

// ID returns the beam id.
func (b *Beam) ID() uint32 { return b.id }

// Scheduler returns the beam's demand-assignment scheduler.
func (b *Beam) Scheduler() *Scheduler { return b.scheduler }

// RandomAccessConf returns the allocation channels shared by the beam's
// terminals.
func (b *Beam) RandomAccessConf() *randomaccess.Conf { return b.raConf }

// NewAccessEngine creates the contention access engine of a terminal of the
// beam. Frame starts follow the beam's superframes and DAMA counts as
// available while the terminal held DA slots in the last cycle.
func (b *Beam) NewAccessEngine(address model.Address, mode randomaccess.Mode, src rng.Source, opts ...randomaccess.Option) (*randomaccess.Engine, error) {
	base := []randomaccess.Option{
		randomaccess.WithFrameTiming(randomaccess.SuperframeTiming{Sequence: b.seq, Index: 0}),
		randomaccess.WithDamaStatus(terminalDama{s: b.scheduler, address: address}),
		randomaccess.WithMetrics(b.id, b.metrics),
		randomaccess.WithLogger(b.log.With(logging.String("terminal", address.String()))),
	}
	return randomaccess.NewEngine(b.raConf, mode, b.scheduler.events, src, append(base, opts...)...)
}

type terminalDama struct {
	s       *Scheduler
	address model.Address
}

func (d terminalDama) IsDamaAvailable() bool {
	return d.s.DaSlotsAssigned(d.address) > 0
}
