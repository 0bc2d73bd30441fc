package randomaccess

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/signalsfoundry/rtn-access-simulator/internal/logging"
	"github.com/signalsfoundry/rtn-access-simulator/internal/observability"
	"github.com/signalsfoundry/rtn-access-simulator/internal/rng"
	"github.com/signalsfoundry/rtn-access-simulator/model"
	"github.com/signalsfoundry/rtn-access-simulator/timectrl"
)

// noCandidateProbability is the chance that no packet suits the next CRDSA
// slot of a block.
const noCandidateProbability = 0.2

// ErrWrongAccessMode is returned when a parameter is set for a scheme the
// engine does not run.
var ErrWrongAccessMode = errors.New("parameter not applicable to the active random access mode")

// Mode selects which contention schemes an engine may use.
type Mode int

const (
	ModeSlottedAloha Mode = iota
	ModeCrdsa
	// ModeAnyAvailable prefers CRDSA at frame starts and falls back to
	// Slotted ALOHA otherwise.
	ModeAnyAvailable
)

func (m Mode) String() string {
	switch m {
	case ModeSlottedAloha:
		return "slotted_aloha"
	case ModeCrdsa:
		return "crdsa"
	case ModeAnyAvailable:
		return "any_available"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) usesSlottedAloha() bool { return m == ModeSlottedAloha || m == ModeAnyAvailable }
func (m Mode) usesCrdsa() bool        { return m == ModeCrdsa || m == ModeAnyAvailable }

// ParseMode maps a configuration string onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "slotted_aloha", "sa":
		return ModeSlottedAloha, nil
	case "crdsa":
		return ModeCrdsa, nil
	case "any_available", "any", "":
		return ModeAnyAvailable, nil
	default:
		return ModeAnyAvailable, fmt.Errorf("unknown random access mode %q", s)
	}
}

// ResultKind is the outcome of a contention decision.
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultSlottedAloha
	ResultCrdsa
)

func (k ResultKind) String() string {
	switch k {
	case ResultSlottedAloha:
		return observability.RaResultSlottedAloha
	case ResultCrdsa:
		return observability.RaResultCrdsa
	default:
		return observability.RaResultNone
	}
}

// Result is a transmission directive. Delay is set for Slotted ALOHA; Slots
// holds the sorted replica slot indices per channel for CRDSA.
type Result struct {
	Kind  ResultKind
	Delay time.Duration
	Slots map[int][]uint32
}

// SlotCount returns the number of CRDSA slots granted over all channels.
func (r Result) SlotCount() int {
	n := 0
	for _, s := range r.Slots {
		n += len(s)
	}
	return n
}

// FrameTiming reports whether now is a random access frame start.
type FrameTiming interface {
	IsFrameStart(now time.Time) bool
}

// DamaStatus reports whether scheduled capacity is known to be available.
type DamaStatus interface {
	IsDamaAvailable() bool
}

// BufferStatus reports whether the terminal has nothing left to send.
type BufferStatus interface {
	AreBuffersEmpty() bool
}

// SuperframeTiming treats every superframe start of a sequence as a random
// access frame start.
type SuperframeTiming struct {
	Sequence *model.SuperframeSequence
	Index    int
}

// IsFrameStart implements FrameTiming.
func (t SuperframeTiming) IsFrameStart(now time.Time) bool {
	return t.Sequence.IsSuperframeStart(t.Index, now)
}

// Engine is the contention access decision procedure of one terminal. The
// allocation channel state it mutates lives in the beam's shared Conf.
type Engine struct {
	conf  *Conf
	mode  Mode
	clock timectrl.SimClock
	rand  rng.Source

	frameTiming FrameTiming
	dama        DamaStatus
	buffers     BufferStatus

	newData bool

	beamID  uint32
	metrics *observability.BeamCollector
	log     logging.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithFrameTiming sets the frame start source. Without one every instant
// counts as a frame start.
func WithFrameTiming(ft FrameTiming) Option { return func(e *Engine) { e.frameTiming = ft } }

// WithDamaStatus sets the scheduled capacity source. Without one DAMA is
// never available.
func WithDamaStatus(d DamaStatus) Option { return func(e *Engine) { e.dama = d } }

// WithBufferStatus sets the buffer source. Without one, new data is only
// signalled through NotifyNewData.
func WithBufferStatus(b BufferStatus) Option { return func(e *Engine) { e.buffers = b } }

// WithMetrics records decisions against beamID.
func WithMetrics(beamID uint32, m *observability.BeamCollector) Option {
	return func(e *Engine) {
		e.beamID = beamID
		e.metrics = m
	}
}

// WithLogger sets the logger. Defaults to Noop.
func WithLogger(l logging.Logger) Option { return func(e *Engine) { e.log = logging.OrNoop(l) } }

// NewEngine creates an engine running mode over conf.
func NewEngine(conf *Conf, mode Mode, clock timectrl.SimClock, src rng.Source, opts ...Option) (*Engine, error) {
	if conf == nil {
		return nil, errors.New("random access engine requires a configuration")
	}
	if clock == nil || src == nil {
		return nil, errors.New("random access engine requires a clock and a random source")
	}
	if mode < ModeSlottedAloha || mode > ModeAnyAvailable {
		return nil, fmt.Errorf("unsupported random access mode %s", mode)
	}
	e := &Engine{
		conf:    conf,
		mode:    mode,
		clock:   clock,
		rand:    src,
		newData: true,
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Mode returns the active mode.
func (e *Engine) Mode() Mode { return e.mode }

// Conf returns the shared beam configuration.
func (e *Engine) Conf() *Conf { return e.conf }

// NotifyNewData marks that fresh data arrived, so the next CRDSA attempt
// starts with a backoff draw.
func (e *Engine) NotifyNewData() { e.newData = true }

// Decide evaluates one transmission opportunity on channel.
func (e *Engine) Decide(channel int) (Result, error) {
	ch, err := e.conf.Channel(channel)
	if err != nil {
		return Result{}, err
	}
	now := e.clock.Now()

	var res Result
	switch e.mode {
	case ModeCrdsa:
		if e.isFrameStart(now) {
			res = e.doCrdsa(channel, ch, now)
		}
	case ModeSlottedAloha:
		res = e.doSlottedAloha()
	case ModeAnyAvailable:
		switch {
		case !e.isFrameStart(now):
			res = e.doSlottedAloha()
		case ch.backoffElapsed(now) && !ch.backoffProbabilityTooHigh():
			res = e.doCrdsa(channel, ch, now)
		default:
			res = e.doSlottedAloha()
			e.conf.reduceIdleBlocksForAllChannels()
		}
	}

	e.metrics.RecordRaDecision(e.beamID, res.Kind.String(), res.SlotCount(), res.Delay)
	return res, nil
}

func (e *Engine) doSlottedAloha() Result {
	if e.isDamaAvailable() {
		return Result{Kind: ResultNone}
	}
	maxMs := e.conf.controlRandomizationInterval.Milliseconds()
	delay := time.Duration(e.rand.Int63n(maxMs+1)) * time.Millisecond
	return Result{Kind: ResultSlottedAloha, Delay: delay}
}

func (e *Engine) doCrdsa(index int, ch *AllocationChannel, now time.Time) Result {
	e.logChannels()

	if !ch.backoffElapsed(now) || e.isDamaAvailable() {
		ch.reduceIdleBlocks()
		return Result{Kind: ResultNone}
	}

	var res Result
	if e.newData {
		e.newData = false
		if e.doBackoff(ch) {
			e.armBackoff(ch, now)
		} else {
			res = e.prepareToTransmit(index, ch, now)
		}
	} else {
		res = e.prepareToTransmit(index, ch, now)
	}

	if res.Kind == ResultCrdsa {
		ch.increaseConsecutiveBlocksUsed()
	} else {
		ch.consecutiveBlocksUsed = 0
	}
	return res
}

func (e *Engine) prepareToTransmit(index int, ch *AllocationChannel, now time.Time) Result {
	res := Result{Kind: ResultNone}
	var slots map[uint32]struct{}

	for i := uint32(0); i < ch.MaxUniquePayloadPerBlock; i++ {
		if e.doBackoff(ch) {
			e.armBackoff(ch, now)
			break
		}
		if e.rand.Float64() < noCandidateProbability {
			break
		}
		if ch.idleBlocksLeft > 0 {
			continue
		}
		if slots == nil {
			slots = make(map[uint32]struct{})
		}
		RandomizeTxOpportunities(ch, e.rand, slots)
		res.Kind = ResultCrdsa
		if e.areBuffersEmpty() {
			e.newData = true
		}
	}
	ch.reduceIdleBlocks()

	if res.Kind == ResultCrdsa {
		res.Slots = map[int][]uint32{index: sortedSlots(slots)}
	}
	return res
}

// RandomizeTxOpportunities adds NumOfInstances distinct slot indices drawn
// uniformly from [min, max) to slots. Existing entries are kept. Drawing
// stops early once the range is exhausted.
func RandomizeTxOpportunities(ch *AllocationChannel, src rng.Source, slots map[uint32]struct{}) {
	span := ch.MaxRandomizationValue - ch.MinRandomizationValue
	if span <= 0 {
		return
	}
	inserted := uint32(0)
	for inserted < ch.NumOfInstances && len(slots) < span {
		slot := uint32(ch.MinRandomizationValue + src.Intn(span))
		if _, dup := slots[slot]; dup {
			continue
		}
		slots[slot] = struct{}{}
		inserted++
	}
}

func (e *Engine) doBackoff(ch *AllocationChannel) bool {
	return e.rand.Float64() < ch.BackoffProbability
}

func (e *Engine) armBackoff(ch *AllocationChannel, now time.Time) {
	ch.armBackoff(now)
	e.metrics.IncRaBackoff(e.beamID)
}

func (e *Engine) isFrameStart(now time.Time) bool {
	return e.frameTiming == nil || e.frameTiming.IsFrameStart(now)
}

func (e *Engine) isDamaAvailable() bool {
	return e.dama != nil && e.dama.IsDamaAvailable()
}

func (e *Engine) areBuffersEmpty() bool {
	return e.buffers != nil && e.buffers.AreBuffersEmpty()
}

func (e *Engine) logChannels() {
	ctx := context.Background()
	for _, s := range e.conf.Snapshot() {
		e.log.Debug(ctx, "crdsa allocation channel",
			logging.Int("channel", s.Index),
			logging.Int("idle_blocks_left", int(s.IdleBlocksLeft)),
			logging.Int("consecutive_blocks_used", int(s.ConsecutiveBlocksUsed)),
			logging.Time("backoff_release_time", s.BackoffReleaseTime),
			logging.Float64("backoff_probability", s.BackoffProbability),
			logging.Int("instances", int(s.NumOfInstances)),
			logging.Int("min_randomization", s.MinRandomizationValue),
			logging.Int("max_randomization", s.MaxRandomizationValue),
		)
	}
}

func sortedSlots(set map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ---- Parameter updates ----

// SetControlRandomizationInterval updates the Slotted ALOHA interval.
func (e *Engine) SetControlRandomizationInterval(d time.Duration) error {
	if !e.mode.usesSlottedAloha() {
		return fmt.Errorf("%w: slotted ALOHA interval in mode %s", ErrWrongAccessMode, e.mode)
	}
	return e.conf.setControlRandomizationInterval(d)
}

// SetLoadControlParameters updates the backoff of a channel.
func (e *Engine) SetLoadControlParameters(channel int, backoffProbability float64, backoffTime time.Duration) error {
	if !e.mode.usesCrdsa() {
		return fmt.Errorf("%w: CRDSA load control in mode %s", ErrWrongAccessMode, e.mode)
	}
	return e.conf.updateChannel(channel, func(ch *AllocationChannel) {
		ch.BackoffProbability = backoffProbability
		ch.BackoffTime = backoffTime
	})
}

// SetMaximumBackoffProbability updates the probability above which CRDSA
// is not attempted on a channel.
func (e *Engine) SetMaximumBackoffProbability(channel int, p float64) error {
	if !e.mode.usesCrdsa() {
		return fmt.Errorf("%w: CRDSA maximum backoff probability in mode %s", ErrWrongAccessMode, e.mode)
	}
	return e.conf.updateChannel(channel, func(ch *AllocationChannel) {
		ch.MaximumBackoffProbability = p
	})
}

// SetRandomizationParameters updates the replica placement of a channel.
func (e *Engine) SetRandomizationParameters(channel, min, max int, instances uint32) error {
	if !e.mode.usesCrdsa() {
		return fmt.Errorf("%w: CRDSA randomization in mode %s", ErrWrongAccessMode, e.mode)
	}
	return e.conf.updateChannel(channel, func(ch *AllocationChannel) {
		ch.MinRandomizationValue = min
		ch.MaxRandomizationValue = max
		ch.NumOfInstances = instances
	})
}

// SetMaximumDataRateLimitationParameters updates the per-block payload cap
// and the forced idling of a channel.
func (e *Engine) SetMaximumDataRateLimitationParameters(channel int, maxUniquePayloadPerBlock, maxConsecutiveBlocksAccessed, minIdleBlocks uint32) error {
	if !e.mode.usesCrdsa() {
		return fmt.Errorf("%w: CRDSA rate limitation in mode %s", ErrWrongAccessMode, e.mode)
	}
	return e.conf.updateChannel(channel, func(ch *AllocationChannel) {
		ch.MaxUniquePayloadPerBlock = maxUniquePayloadPerBlock
		ch.MaxConsecutiveBlocksAccessed = maxConsecutiveBlocksAccessed
		ch.MinIdleBlocks = minIdleBlocks
	})
}
