package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Demand mechanisms used as the "mechanism" label of requested bytes.
const (
	MechanismCRA  = "cra"
	MechanismRBDC = "rbdc"
	MechanismVBDC = "vbdc"
)

// Contention decision outcomes used as the "result" label.
const (
	RaResultNone         = "none"
	RaResultSlottedAloha = "slotted_aloha"
	RaResultCrdsa        = "crdsa"
)

// CycleStats summarises one beam scheduling cycle.
type CycleStats struct {
	BeamID            uint32
	SuperframeCounter uint32
	Terminals         int
	CraBytes          uint64
	RbdcBytes         uint64
	VbdcBytes         uint64
	TbtpSizes         []int
	RaSlotsAnnounced  int
	DaSlotsAssigned   int
	Duration          time.Duration
}

// BeamCollector bundles Prometheus metrics for beam schedulers and the
// contention access engines configured from them. All methods are safe on
// a nil receiver so components can run without metrics.
type BeamCollector struct {
	gatherer prometheus.Gatherer

	Cycles          *prometheus.CounterVec
	CycleDurations  *prometheus.HistogramVec
	Terminals       *prometheus.GaugeVec
	RequestedBytes  *prometheus.CounterVec
	TbtpMessages    *prometheus.CounterVec
	TbtpSizes       *prometheus.HistogramVec
	RaSlotsAnnounce *prometheus.CounterVec
	DaSlots         *prometheus.CounterVec

	RaDecisions  *prometheus.CounterVec
	CrdsaSlots   *prometheus.CounterVec
	RaBackoffs   *prometheus.CounterVec
	SlottedDelay *prometheus.HistogramVec
}

// NewBeamCollector registers beam metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewBeamCollector(reg prometheus.Registerer) (*BeamCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &BeamCollector{gatherer: gatherer}
	var err error

	if c.Cycles, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtn_scheduler_cycles_total",
		Help: "Scheduling cycles run per beam.",
	}, []string{"beam"}), "rtn_scheduler_cycles_total"); err != nil {
		return nil, err
	}
	if c.CycleDurations, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtn_scheduler_cycle_duration_seconds",
		Help:    "Wall-clock time spent computing one scheduling cycle.",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"beam"}), "rtn_scheduler_cycle_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Terminals, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtn_beam_terminals",
		Help: "Terminals registered with a beam scheduler.",
	}, []string{"beam"}), "rtn_beam_terminals"); err != nil {
		return nil, err
	}
	if c.RequestedBytes, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtn_requested_bytes_total",
		Help: "Return link bytes requested per cycle, labeled by demand mechanism.",
	}, []string{"beam", "mechanism"}), "rtn_requested_bytes_total"); err != nil {
		return nil, err
	}
	if c.TbtpMessages, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtn_tbtp_messages_total",
		Help: "TBTP message instances broadcast.",
	}, []string{"beam"}), "rtn_tbtp_messages_total"); err != nil {
		return nil, err
	}
	if c.TbtpSizes, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtn_tbtp_message_bytes",
		Help:    "Serialized size of broadcast TBTP instances.",
		Buckets: prometheus.ExponentialBuckets(16, 2, 10),
	}, []string{"beam"}), "rtn_tbtp_message_bytes"); err != nil {
		return nil, err
	}
	if c.RaSlotsAnnounce, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtn_ra_slots_announced_total",
		Help: "Random access timeslots announced in TBTPs.",
	}, []string{"beam"}), "rtn_ra_slots_announced_total"); err != nil {
		return nil, err
	}
	if c.DaSlots, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtn_da_slots_assigned_total",
		Help: "Dedicated access timeslots assigned in TBTPs.",
	}, []string{"beam"}), "rtn_da_slots_assigned_total"); err != nil {
		return nil, err
	}
	if c.RaDecisions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtn_ra_decisions_total",
		Help: "Contention access decisions, labeled by outcome.",
	}, []string{"beam", "result"}), "rtn_ra_decisions_total"); err != nil {
		return nil, err
	}
	if c.CrdsaSlots, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtn_crdsa_slots_total",
		Help: "CRDSA replica slots granted.",
	}, []string{"beam"}), "rtn_crdsa_slots_total"); err != nil {
		return nil, err
	}
	if c.RaBackoffs, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtn_ra_backoffs_total",
		Help: "CRDSA backoff periods armed.",
	}, []string{"beam"}), "rtn_ra_backoffs_total"); err != nil {
		return nil, err
	}
	if c.SlottedDelay, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtn_slotted_aloha_delay_seconds",
		Help:    "Release delays granted by Slotted ALOHA decisions.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"beam"}), "rtn_slotted_aloha_delay_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the gatherer the collector was registered with.
func (c *BeamCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *BeamCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveCycle records the outcome of one scheduling cycle.
func (c *BeamCollector) ObserveCycle(s CycleStats) {
	if c == nil {
		return
	}
	beam := beamLabel(s.BeamID)
	c.Cycles.WithLabelValues(beam).Inc()
	c.CycleDurations.WithLabelValues(beam).Observe(s.Duration.Seconds())
	c.Terminals.WithLabelValues(beam).Set(float64(s.Terminals))
	c.RequestedBytes.WithLabelValues(beam, MechanismCRA).Add(float64(s.CraBytes))
	c.RequestedBytes.WithLabelValues(beam, MechanismRBDC).Add(float64(s.RbdcBytes))
	c.RequestedBytes.WithLabelValues(beam, MechanismVBDC).Add(float64(s.VbdcBytes))
	c.TbtpMessages.WithLabelValues(beam).Add(float64(len(s.TbtpSizes)))
	for _, size := range s.TbtpSizes {
		c.TbtpSizes.WithLabelValues(beam).Observe(float64(size))
	}
	c.RaSlotsAnnounce.WithLabelValues(beam).Add(float64(s.RaSlotsAnnounced))
	c.DaSlots.WithLabelValues(beam).Add(float64(s.DaSlotsAssigned))
}

// SetTerminals updates the registered terminal gauge of a beam.
func (c *BeamCollector) SetTerminals(beamID uint32, n int) {
	if c == nil {
		return
	}
	c.Terminals.WithLabelValues(beamLabel(beamID)).Set(float64(n))
}

// RecordRaDecision counts one contention access decision. slots is the
// number of CRDSA replica slots granted and delay the Slotted ALOHA
// release delay; either is ignored when zero.
func (c *BeamCollector) RecordRaDecision(beamID uint32, result string, slots int, delay time.Duration) {
	if c == nil {
		return
	}
	beam := beamLabel(beamID)
	c.RaDecisions.WithLabelValues(beam, result).Inc()
	if slots > 0 {
		c.CrdsaSlots.WithLabelValues(beam).Add(float64(slots))
	}
	if result == RaResultSlottedAloha {
		c.SlottedDelay.WithLabelValues(beam).Observe(delay.Seconds())
	}
}

// IncRaBackoff counts one armed CRDSA backoff.
func (c *BeamCollector) IncRaBackoff(beamID uint32) {
	if c == nil {
		return
	}
	c.RaBackoffs.WithLabelValues(beamLabel(beamID)).Inc()
}

func beamLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
