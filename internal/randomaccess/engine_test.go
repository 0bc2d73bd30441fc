package randomaccess

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/rtn-access-simulator/internal/observability"
	"github.com/signalsfoundry/rtn-access-simulator/internal/simevent"
	"github.com/signalsfoundry/rtn-access-simulator/model"
)

// scriptedSource returns queued Float64 values, then 0.99. Intn walks the
// range in order and Int63n always returns its maximum.
type scriptedSource struct {
	floats []float64
	next   int
}

func (s *scriptedSource) Float64() float64 {
	if len(s.floats) == 0 {
		return 0.99
	}
	f := s.floats[0]
	s.floats = s.floats[1:]
	return f
}

func (s *scriptedSource) Intn(n int) int {
	v := s.next % n
	s.next++
	return v
}

func (s *scriptedSource) Int63n(n int64) int64 { return n - 1 }

type staticTiming bool

func (t staticTiming) IsFrameStart(time.Time) bool { return bool(t) }

type staticDama bool

func (d staticDama) IsDamaAvailable() bool { return bool(d) }

type staticBuffers bool

func (b staticBuffers) AreBuffersEmpty() bool { return bool(b) }

// crdsaProfile has a never-triggering backoff, one payload per block and
// idling after two consecutive blocks.
func crdsaProfile() model.ServiceProfile {
	p := model.DefaultServiceProfile()
	p.RaServices[0].BackOffProbability = 1
	p.RaServices[0].MaximumUniquePayloadPerBlock = 1
	p.RaServices[0].MaximumConsecutiveBlockAccessed = 2
	p.RaServices[0].MinimumIdleBlock = 2
	return p
}

func newTestEngine(t *testing.T, p model.ServiceProfile, mode Mode, src *scriptedSource, opts ...Option) (*Engine, *simevent.FakeEventScheduler) {
	t.Helper()
	conf, err := NewConf(p, nil)
	if err != nil {
		t.Fatalf("NewConf: %v", err)
	}
	clock := simevent.NewFakeEventScheduler(time.Unix(1_000, 0))
	e, err := NewEngine(conf, mode, clock, src, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, clock
}

func TestRandomizeTxOpportunitiesDistinctWithinRange(t *testing.T) {
	ch := validChannel()
	ch.MinRandomizationValue, ch.MaxRandomizationValue, ch.NumOfInstances = 5, 9, 3
	src := &scriptedSource{}
	slots := map[uint32]struct{}{}

	RandomizeTxOpportunities(&ch, src, slots)
	if len(slots) != 3 {
		t.Fatalf("slots = %d, want 3", len(slots))
	}
	for s := range slots {
		if s < 5 || s >= 9 {
			t.Fatalf("slot %d outside [5, 9)", s)
		}
	}

	// A second union can only add the one remaining index.
	RandomizeTxOpportunities(&ch, src, slots)
	if len(slots) != 4 {
		t.Fatalf("slots after exhausting range = %d, want 4", len(slots))
	}
}

func TestAnyAvailableAttemptsCrdsaAtFrameStart(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewBeamCollector(reg)
	if err != nil {
		t.Fatalf("NewBeamCollector: %v", err)
	}
	e, _ := newTestEngine(t, crdsaProfile(), ModeAnyAvailable, &scriptedSource{}, WithMetrics(7, metrics))

	res, err := e.Decide(0)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if res.Kind != ResultCrdsa {
		t.Fatalf("Kind = %s, want crdsa", res.Kind)
	}
	got := res.Slots[0]
	if len(got) != 3 {
		t.Fatalf("slots = %v, want 3 replicas", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("slots not sorted and distinct: %v", got)
		}
	}
	if v := testutil.ToFloat64(metrics.RaDecisions.WithLabelValues("7", observability.RaResultCrdsa)); v != 1 {
		t.Fatalf("crdsa decisions = %v, want 1", v)
	}
	if v := testutil.ToFloat64(metrics.CrdsaSlots.WithLabelValues("7")); v != 3 {
		t.Fatalf("crdsa slots = %v, want 3", v)
	}
}

func TestAnyAvailableFallsBackToSlottedAloha(t *testing.T) {
	t.Run("not a frame start", func(t *testing.T) {
		e, _ := newTestEngine(t, crdsaProfile(), ModeAnyAvailable, &scriptedSource{}, WithFrameTiming(staticTiming(false)))
		res, err := e.Decide(0)
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if res.Kind != ResultSlottedAloha || res.Delay != 100*time.Millisecond {
			t.Fatalf("result = %+v, want slotted ALOHA with 100ms delay", res)
		}
	})

	t.Run("backoff probability too high", func(t *testing.T) {
		p := crdsaProfile()
		p.RaServices = append(p.RaServices, p.RaServices[0])
		p.RaServices[0].MaximumBackoffProbability = 0
		e, _ := newTestEngine(t, p, ModeAnyAvailable, &scriptedSource{})
		for _, ch := range e.Conf().channels {
			ch.idleBlocksLeft = 2
		}

		res, err := e.Decide(0)
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if res.Kind != ResultSlottedAloha {
			t.Fatalf("Kind = %s, want slotted_aloha", res.Kind)
		}
		for i, s := range e.Conf().Snapshot() {
			if s.IdleBlocksLeft != 1 {
				t.Fatalf("channel %d idle = %d, want 1", i, s.IdleBlocksLeft)
			}
		}
	})
}

func TestSlottedAlohaDelayAndDama(t *testing.T) {
	e, _ := newTestEngine(t, crdsaProfile(), ModeSlottedAloha, &scriptedSource{})
	res, err := e.Decide(0)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if res.Kind != ResultSlottedAloha || res.Delay != e.Conf().ControlRandomizationInterval() {
		t.Fatalf("result = %+v, want delay at interval bound", res)
	}

	withDama, _ := newTestEngine(t, crdsaProfile(), ModeSlottedAloha, &scriptedSource{}, WithDamaStatus(staticDama(true)))
	res, err = withDama.Decide(0)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if res.Kind != ResultNone {
		t.Fatalf("Kind = %s, want none when DAMA is available", res.Kind)
	}
}

func TestCrdsaIdlesAfterConsecutiveBlocks(t *testing.T) {
	e, _ := newTestEngine(t, crdsaProfile(), ModeCrdsa, &scriptedSource{})

	want := []ResultKind{ResultCrdsa, ResultCrdsa, ResultNone, ResultNone, ResultCrdsa}
	for i, w := range want {
		res, err := e.Decide(0)
		if err != nil {
			t.Fatalf("Decide %d: %v", i, err)
		}
		if res.Kind != w {
			t.Fatalf("block %d: Kind = %s, want %s", i, res.Kind, w)
		}
	}
}

func TestCrdsaBackoffBlocksUntilReleased(t *testing.T) {
	p := crdsaProfile()
	p.RaServices[0].BackOffProbability = 65535
	p.RaServices[0].MaximumBackoffProbability = 1
	e, clock := newTestEngine(t, p, ModeCrdsa, &scriptedSource{})

	res, err := e.Decide(0)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if res.Kind != ResultNone {
		t.Fatalf("Kind = %s, want none after backoff", res.Kind)
	}
	ch, _ := e.Conf().Channel(0)
	release := ch.BackoffReleaseTime()
	if want := clock.Now().Add(250 * time.Millisecond); !release.Equal(want) {
		t.Fatalf("release = %s, want %s", release, want)
	}

	if err := e.SetLoadControlParameters(0, 0, 250*time.Millisecond); err != nil {
		t.Fatalf("SetLoadControlParameters: %v", err)
	}
	clock.Advance(100 * time.Millisecond)
	if res, _ := e.Decide(0); res.Kind != ResultNone {
		t.Fatalf("Kind = %s during backoff, want none", res.Kind)
	}
	clock.Advance(150 * time.Millisecond)
	if res, _ := e.Decide(0); res.Kind != ResultCrdsa {
		t.Fatalf("Kind = %s after release, want crdsa", res.Kind)
	}
}

func TestCrdsaNoCandidateAndDama(t *testing.T) {
	// Draws: new data backoff, in-block backoff, then the candidate check.
	src := &scriptedSource{floats: []float64{0.99, 0.99, 0.1}}
	e, _ := newTestEngine(t, crdsaProfile(), ModeCrdsa, src)
	if res, _ := e.Decide(0); res.Kind != ResultNone {
		t.Fatalf("Kind = %s, want none without a candidate packet", res.Kind)
	}

	withDama, _ := newTestEngine(t, crdsaProfile(), ModeCrdsa, &scriptedSource{}, WithDamaStatus(staticDama(true)))
	if res, _ := withDama.Decide(0); res.Kind != ResultNone {
		t.Fatalf("Kind = %s, want none when DAMA is available", res.Kind)
	}
}

func TestCrdsaEmptyBuffersMarkNewData(t *testing.T) {
	e, _ := newTestEngine(t, crdsaProfile(), ModeCrdsa, &scriptedSource{}, WithBufferStatus(staticBuffers(true)))
	if res, _ := e.Decide(0); res.Kind != ResultCrdsa {
		t.Fatalf("Kind = %s, want crdsa", res.Kind)
	}
	if !e.newData {
		t.Fatalf("new data flag not set after buffers drained")
	}

	busy, _ := newTestEngine(t, crdsaProfile(), ModeCrdsa, &scriptedSource{}, WithBufferStatus(staticBuffers(false)))
	busy.Decide(0)
	if busy.newData {
		t.Fatalf("new data flag set while buffers still hold data")
	}
	busy.NotifyNewData()
	if !busy.newData {
		t.Fatalf("NotifyNewData did not set the flag")
	}
}

func TestCrdsaSkipsOutsideFrameStart(t *testing.T) {
	e, _ := newTestEngine(t, crdsaProfile(), ModeCrdsa, &scriptedSource{}, WithFrameTiming(staticTiming(false)))
	if res, _ := e.Decide(0); res.Kind != ResultNone {
		t.Fatalf("Kind = %s, want none", res.Kind)
	}
}

func TestDecideUnknownChannel(t *testing.T) {
	e, _ := newTestEngine(t, crdsaProfile(), ModeCrdsa, &scriptedSource{})
	if _, err := e.Decide(4); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("Decide(4) = %v, want ErrUnknownChannel", err)
	}
}

func TestSettersRespectMode(t *testing.T) {
	sa, _ := newTestEngine(t, crdsaProfile(), ModeSlottedAloha, &scriptedSource{})
	if err := sa.SetLoadControlParameters(0, 0.1, time.Second); !errors.Is(err, ErrWrongAccessMode) {
		t.Fatalf("SetLoadControlParameters in SA mode = %v", err)
	}
	if err := sa.SetRandomizationParameters(0, 0, 10, 2); !errors.Is(err, ErrWrongAccessMode) {
		t.Fatalf("SetRandomizationParameters in SA mode = %v", err)
	}
	if err := sa.SetControlRandomizationInterval(50 * time.Millisecond); err != nil {
		t.Fatalf("SetControlRandomizationInterval: %v", err)
	}
	if err := sa.SetControlRandomizationInterval(0); !errors.Is(err, ErrInvalidSlottedAlohaConfig) {
		t.Fatalf("zero interval = %v", err)
	}
	if sa.Conf().ControlRandomizationInterval() != 50*time.Millisecond {
		t.Fatalf("rejected interval was committed")
	}

	crdsa, _ := newTestEngine(t, crdsaProfile(), ModeCrdsa, &scriptedSource{})
	if err := crdsa.SetControlRandomizationInterval(time.Second); !errors.Is(err, ErrWrongAccessMode) {
		t.Fatalf("SetControlRandomizationInterval in CRDSA mode = %v", err)
	}
	if err := crdsa.SetMaximumBackoffProbability(0, 2); !errors.Is(err, ErrInvalidChannelConfig) {
		t.Fatalf("SetMaximumBackoffProbability(2) = %v", err)
	}
	if err := crdsa.SetMaximumDataRateLimitationParameters(0, 4, 8, 1); err != nil {
		t.Fatalf("SetMaximumDataRateLimitationParameters: %v", err)
	}
	s := crdsa.Conf().Snapshot()[0]
	if s.MaxUniquePayloadPerBlock != 4 || s.MaxConsecutiveBlocksAccessed != 8 || s.MinIdleBlocks != 1 {
		t.Fatalf("rate limitation not applied: %+v", s)
	}

	both, _ := newTestEngine(t, crdsaProfile(), ModeAnyAvailable, &scriptedSource{})
	if err := both.SetRandomizationParameters(0, 10, 20, 5); err != nil {
		t.Fatalf("SetRandomizationParameters in any mode: %v", err)
	}
	if err := both.SetControlRandomizationInterval(time.Millisecond); err != nil {
		t.Fatalf("SetControlRandomizationInterval in any mode: %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"crdsa": ModeCrdsa, "SA": ModeSlottedAloha, "any_available": ModeAnyAvailable} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("tdma"); err == nil {
		t.Fatalf("ParseMode(tdma) succeeded")
	}
}
