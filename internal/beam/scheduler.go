// Package beam runs the return link demand-assignment scheduler of one spot
// beam and bundles it with the beam's random access configuration.
package beam

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/rtn-access-simulator/internal/cno"
	"github.com/signalsfoundry/rtn-access-simulator/internal/dama"
	"github.com/signalsfoundry/rtn-access-simulator/internal/frame"
	"github.com/signalsfoundry/rtn-access-simulator/internal/logging"
	"github.com/signalsfoundry/rtn-access-simulator/internal/observability"
	"github.com/signalsfoundry/rtn-access-simulator/internal/rng"
	"github.com/signalsfoundry/rtn-access-simulator/internal/simevent"
	"github.com/signalsfoundry/rtn-access-simulator/model"
)

var (
	// ErrScheduleInPast is returned when the first cycle would not start
	// strictly after the current simulation time.
	ErrScheduleInPast = errors.New("first superframe starts in the past")
	// ErrTerminalExists is returned when a terminal is added twice.
	ErrTerminalExists = errors.New("terminal already added to beam scheduler")
	// ErrUnknownTerminal is returned for terminals never added.
	ErrUnknownTerminal = errors.New("terminal not known to beam scheduler")
	// ErrNotInitialized is returned when terminals are added before
	// Initialize.
	ErrNotInitialized = errors.New("beam scheduler not initialized")
	// ErrInvalidAttribute wraps every rejected scheduler attribute.
	ErrInvalidAttribute = errors.New("invalid beam scheduler attribute")
)

// SendFunc delivers one TBTP instance to dest.
type SendFunc func(msg *model.Tbtp, dest model.Address) error

// Attributes are the tunables of a beam scheduler.
type Attributes struct {
	CnoEstimationMode   cno.Mode
	CnoEstimationWindow time.Duration
	// MaxTwoWayPropagationDelay and MaxTbtpTxAndProcessingDelay decide how
	// many superframes ahead a TBTP is scheduled.
	MaxTwoWayPropagationDelay   time.Duration
	MaxTbtpTxAndProcessingDelay time.Duration
}

// DefaultAttributes returns the attributes of a geostationary return link.
func DefaultAttributes() Attributes {
	return Attributes{
		CnoEstimationMode:           cno.ModeLast,
		CnoEstimationWindow:         cno.DefaultWindow,
		MaxTwoWayPropagationDelay:   560 * time.Millisecond,
		MaxTbtpTxAndProcessingDelay: 100 * time.Millisecond,
	}
}

// Validate checks the attributes.
func (a Attributes) Validate() error {
	switch {
	case !a.CnoEstimationMode.Valid():
		return fmt.Errorf("%w: %w: %v", ErrInvalidAttribute, cno.ErrUnsupportedMode, a.CnoEstimationMode)
	case a.CnoEstimationWindow <= 0:
		return fmt.Errorf("%w: estimation window %s must be positive", ErrInvalidAttribute, a.CnoEstimationWindow)
	case a.MaxTwoWayPropagationDelay < 0:
		return fmt.Errorf("%w: propagation delay %s < 0", ErrInvalidAttribute, a.MaxTwoWayPropagationDelay)
	case a.MaxTbtpTxAndProcessingDelay < 0:
		return fmt.Errorf("%w: TBTP processing delay %s < 0", ErrInvalidAttribute, a.MaxTbtpTxAndProcessingDelay)
	}
	return nil
}

type terminal struct {
	address   model.Address
	entry     *dama.Entry
	estimator *cno.Estimator
	requests  []*model.CapacityRequest
}

func (t *terminal) quality() frame.LinkQuality {
	v, ok := t.estimator.Estimate()
	if !ok {
		return frame.UnknownQuality
	}
	return frame.LinkQuality{CnoDbHz: v, Known: true}
}

// Scheduler is the demand-assignment scheduler of one beam. It must only be
// used from callbacks of its event scheduler.
type Scheduler struct {
	events    simevent.EventScheduler
	attrs     Attributes
	allocator frame.Allocator
	rand      rng.Source
	metrics   *observability.BeamCollector
	log       logging.Logger

	initialized   bool
	beamID        uint32
	send          SendFunc
	seq           *model.SuperframeSequence
	maxRcCount    int
	maxFrameBytes int
	counter       uint32
	cycleEvent    string

	// terminals keeps registration order; ranking sorts a copy.
	terminals []*terminal
	byAddress map[model.Address]*terminal

	lastDaSlots map[model.Address]int
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithAttributes overrides DefaultAttributes.
func WithAttributes(a Attributes) Option { return func(s *Scheduler) { s.attrs = a } }

// WithFrameAllocator replaces the reference SlotAllocator.
func WithFrameAllocator(a frame.Allocator) Option { return func(s *Scheduler) { s.allocator = a } }

// WithRNG sets the source drawing random access channel indices.
func WithRNG(src rng.Source) Option { return func(s *Scheduler) { s.rand = src } }

// WithMetrics records cycle metrics.
func WithMetrics(m *observability.BeamCollector) Option { return func(s *Scheduler) { s.metrics = m } }

// WithLogger sets the logger. Defaults to Noop.
func WithLogger(l logging.Logger) Option { return func(s *Scheduler) { s.log = logging.OrNoop(l) } }

// NewScheduler creates an uninitialized scheduler driven by events.
func NewScheduler(events simevent.EventScheduler, opts ...Option) *Scheduler {
	s := &Scheduler{
		events:      events,
		attrs:       DefaultAttributes(),
		log:         logging.Noop(),
		byAddress:   make(map[model.Address]*terminal),
		lastDaSlots: make(map[model.Address]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize configures the scheduler for beamID and arms the first cycle at
// the next superframe start. TBTPs are stamped with a superframe counter far
// enough ahead to reach every terminal in time.
func (s *Scheduler) Initialize(beamID uint32, send SendFunc, seq *model.SuperframeSequence, maxRcCount, maxFrameBytes int) error {
	if s.initialized {
		return fmt.Errorf("beam %d scheduler already initialized", s.beamID)
	}
	if send == nil {
		return fmt.Errorf("%w: send callback is required", ErrInvalidAttribute)
	}
	if err := s.attrs.Validate(); err != nil {
		return err
	}
	if err := seq.Validate(); err != nil {
		return err
	}
	if maxRcCount < 1 {
		return fmt.Errorf("%w: max RC count %d < 1", ErrInvalidAttribute, maxRcCount)
	}
	sf := seq.Superframe(0)
	if need := minFrameBytes(sf); maxFrameBytes < need {
		return fmt.Errorf("%w: max frame size %d bytes, need at least %d", ErrInvalidAttribute, maxFrameBytes, need)
	}

	now := s.events.Now()
	start := seq.NextSuperframeStart(0, now)
	if !start.After(now) {
		return fmt.Errorf("%w: %s not after %s", ErrScheduleInPast, start, now)
	}

	if s.allocator == nil {
		a, err := frame.NewSlotAllocator(sf, maxRcCount)
		if err != nil {
			return err
		}
		s.allocator = a
	}
	if s.rand == nil {
		s.rand = rng.NewPartitioned(rng.Seed(beamID)).ForSubsystem(rng.SubsystemBeam(beamID))
	}

	totalDelay := s.attrs.MaxTwoWayPropagationDelay + s.attrs.MaxTbtpTxAndProcessingDelay
	offset := uint32(totalDelay/seq.Duration(0)) + 1

	s.beamID = beamID
	s.send = send
	s.seq = seq
	s.maxRcCount = maxRcCount
	s.maxFrameBytes = maxFrameBytes
	s.counter = seq.NextSuperframeCount(0, now) + offset
	s.log = s.log.With(logging.Uint32("beam_id", beamID))
	s.initialized = true
	s.cycleEvent = s.events.Schedule(start, s.runCycle)

	s.log.Info(context.Background(), "beam scheduler initialized",
		logging.Time("first_cycle", start),
		logging.Uint32("superframe_counter", s.counter),
		logging.Int("superframe_offset", int(offset)),
	)
	return nil
}

// minFrameBytes is the smallest TBTP able to carry any single entry the
// superframe produces.
func minFrameBytes(sf *model.SuperframeConf) int {
	need := model.DaAssignmentSizeBytes
	for i := 0; i < sf.RaChannelCount(); i++ {
		id, _ := sf.RaChannelFrameID(i)
		f, err := sf.Frame(id)
		if err != nil {
			continue
		}
		if c := int(f.TimeSlotsPerCarrier()) * model.TimeSlotInfoSizeBytes; c > need {
			need = c
		}
	}
	return model.TbtpHeaderSizeBytes + need
}

// BeamID returns the beam the scheduler serves.
func (s *Scheduler) BeamID() uint32 { return s.beamID }

// SuperframeCounter returns the counter the next TBTP will carry.
func (s *Scheduler) SuperframeCounter() uint32 { return s.counter }

// TerminalCount returns the number of registered terminals.
func (s *Scheduler) TerminalCount() int { return len(s.terminals) }

// AddUt registers a terminal and returns the random access allocation
// channel it should use.
func (s *Scheduler) AddUt(address model.Address, profile model.ServiceProfile) (int, error) {
	if !s.initialized {
		return 0, ErrNotInitialized
	}
	if _, ok := s.byAddress[address]; ok {
		return 0, fmt.Errorf("%w: %s", ErrTerminalExists, address)
	}
	if profile.RcCount() > s.maxRcCount {
		return 0, fmt.Errorf("%w: %d resource classes exceed beam maximum %d",
			model.ErrInvalidServiceProfile, profile.RcCount(), s.maxRcCount)
	}
	entry, err := dama.NewEntry(profile)
	if err != nil {
		return 0, err
	}
	estimator, err := cno.NewEstimator(s.attrs.CnoEstimationMode, s.attrs.CnoEstimationWindow, s.events)
	if err != nil {
		return 0, err
	}

	t := &terminal{address: address, entry: entry, estimator: estimator}
	s.terminals = append(s.terminals, t)
	s.byAddress[address] = t
	s.metrics.SetTerminals(s.beamID, len(s.terminals))

	index := 0
	if n := s.seq.Superframe(0).RaChannelCount(); n > 0 {
		index = s.rand.Intn(n)
	}
	s.log.Debug(context.Background(), "terminal added",
		logging.String("terminal", address.String()),
		logging.Int("ra_channel", index),
	)
	return index, nil
}

// UpdateUtCno records a C/N0 sample for a terminal.
func (s *Scheduler) UpdateUtCno(address model.Address, cnoDbHz float64) error {
	t, ok := s.byAddress[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTerminal, address)
	}
	t.estimator.AddSample(cnoDbHz)
	return nil
}

// UtCrReceived queues a capacity request until the next cycle.
func (s *Scheduler) UtCrReceived(address model.Address, req *model.CapacityRequest) error {
	t, ok := s.byAddress[address]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTerminal, address)
	}
	t.requests = append(t.requests, req)
	return nil
}

// DaSlotsAssigned returns the DA timeslots the terminal received in the
// most recent cycle.
func (s *Scheduler) DaSlotsAssigned(address model.Address) int {
	return s.lastDaSlots[address]
}

// Stop cancels the pending cycle.
func (s *Scheduler) Stop() {
	if s.cycleEvent != "" {
		s.events.Cancel(s.cycleEvent)
		s.cycleEvent = ""
	}
}

func (s *Scheduler) runCycle() {
	now := s.events.Now()
	if len(s.terminals) > 0 {
		s.schedule(now)
	}
	s.cycleEvent = s.events.Schedule(now.Add(s.seq.Duration(0)), s.runCycle)
}

func (s *Scheduler) schedule(now time.Time) {
	began := time.Now()
	ctx, span := observability.Tracer().Start(context.Background(), "beam.schedule",
		trace.WithAttributes(
			attribute.Int64("beam.id", int64(s.beamID)),
			attribute.Int64("superframe.counter", int64(s.counter)),
			attribute.Int("beam.terminals", len(s.terminals)),
		))
	defer span.End()

	stats := observability.CycleStats{
		BeamID:            s.beamID,
		SuperframeCounter: s.counter,
		Terminals:         len(s.terminals),
	}
	s.updateDemand(ctx, &stats)
	s.allocate()

	set := model.NewTbtpSet(s.seq.ID, s.counter, s.maxFrameBytes)
	s.counter++

	var errs []error
	if err := s.addRaChannels(set); err != nil {
		errs = append(errs, err)
	}
	if err := s.allocator.GenerateTimeSlots(set); err != nil {
		errs = append(errs, fmt.Errorf("generate time slots: %w", err))
	}

	clear(s.lastDaSlots)
	for _, msg := range set.Messages() {
		stats.TbtpSizes = append(stats.TbtpSizes, msg.SizeInBytes())
		stats.RaSlotsAnnounced += msg.RaTimeSlotCount()
		stats.DaSlotsAssigned += len(msg.DaTimeSlots)
		for _, slot := range msg.DaTimeSlots {
			s.lastDaSlots[slot.Address]++
		}
		if err := s.send(msg, model.BroadcastAddress); err != nil {
			errs = append(errs, fmt.Errorf("send TBTP: %w", err))
		}
	}

	stats.Duration = time.Since(began)
	s.metrics.ObserveCycle(stats)
	span.SetAttributes(
		attribute.Int("tbtp.count", len(stats.TbtpSizes)),
		attribute.Int("tbtp.da_slots", stats.DaSlotsAssigned),
	)

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "beam cycle incomplete")
		s.log.Error(ctx, "beam cycle incomplete", logging.Err(err), logging.Uint32("superframe_counter", stats.SuperframeCounter))
		return
	}
	s.log.Debug(ctx, "TBTP sent",
		logging.Time("at", now),
		logging.Uint32("superframe_counter", stats.SuperframeCounter),
		logging.Int("messages", len(stats.TbtpSizes)),
		logging.Int("da_slots", stats.DaSlotsAssigned),
	)
}

// updateDemand drains queued capacity requests into the demand entries and
// ages them by one cycle.
func (s *Scheduler) updateDemand(ctx context.Context, stats *observability.CycleStats) {
	d := s.seq.Duration(0)
	for _, t := range s.terminals {
		for _, req := range t.requests {
			if err := t.entry.Apply(req); err != nil {
				s.log.Warn(ctx, "capacity request partly rejected",
					logging.String("terminal", t.address.String()), logging.Err(err))
			}
		}
		t.requests = nil

		stats.CraBytes += t.entry.CraBasedBytes(d)
		stats.RbdcBytes += t.entry.RbdcBasedBytes(d)
		stats.VbdcBytes += t.entry.VbdcBasedBytes()

		t.entry.DecrementDynamicRatePersistence()
		t.entry.DecrementVolumeBacklogPersistence()
	}
}

// ranked orders terminals by ascending estimated C/N0. Terminals without an
// estimate go last; ties keep registration order.
func (s *Scheduler) ranked() ([]*terminal, []frame.LinkQuality) {
	type item struct {
		t *terminal
		q frame.LinkQuality
	}
	items := make([]item, len(s.terminals))
	for i, t := range s.terminals {
		items[i] = item{t: t, q: t.quality()}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].q, items[j].q
		if a.Known != b.Known {
			return a.Known
		}
		return a.Known && a.CnoDbHz < b.CnoDbHz
	})
	ts := make([]*terminal, len(items))
	qs := make([]frame.LinkQuality, len(items))
	for i, it := range items {
		ts[i], qs[i] = it.t, it.q
	}
	return ts, qs
}

func (s *Scheduler) allocate() {
	s.allocator.RemoveAllocations()
	terminals, qualities := s.ranked()
	for i, t := range terminals {
		req := frame.AllocRequest{Address: t.address, Rcs: make([]frame.RcRequest, t.entry.RcCount())}
		for rc := range req.Rcs {
			idx := uint8(rc)
			req.Rcs[rc] = frame.RcRequest{
				CraKbps:     t.entry.CraKbps(idx),
				MinRbdcKbps: t.entry.MinRbdcKbps(idx),
				RbdcKbps:    t.entry.RbdcKbps(idx),
				VbdcBytes:   t.entry.VbdcBytes(idx),
			}
		}
		s.allocator.AllocateToFrame(qualities[i], req)
	}
	s.allocator.AllocateSymbols()
}

func (s *Scheduler) addRaChannels(set *model.TbtpSet) error {
	sf := s.seq.Superframe(0)
	var errs []error
	for i := 0; i < sf.RaChannelCount(); i++ {
		frameID, err := sf.RaChannelFrameID(i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		f, err := sf.Frame(frameID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		count := f.TimeSlotsPerCarrier()
		if count == 0 {
			continue
		}
		if err := set.AddRaChannel(uint32(i), frameID, count); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
