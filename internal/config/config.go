// Package config loads scenario files describing one beam, its superframe
// layout, the terminal service profile and the offered traffic.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/rtn-access-simulator/internal/cno"
	"github.com/signalsfoundry/rtn-access-simulator/internal/randomaccess"
	"github.com/signalsfoundry/rtn-access-simulator/model"
)

// ErrInvalidScenario wraps every failed scenario rule.
var ErrInvalidScenario = errors.New("invalid scenario")

// DAMA configurations of the on/off scenario.
const (
	DamaRbdc = "rbdc"
	DamaVbdc = "vbdc"
)

// Scenario is the root of a scenario file.
type Scenario struct {
	Seed         int64              `yaml:"seed"`
	Duration     time.Duration      `yaml:"duration"`
	Epoch        time.Time          `yaml:"epoch"`
	Beam         BeamConfig         `yaml:"beam"`
	Superframe   SuperframeConfig   `yaml:"superframe"`
	Dama         DamaConfig         `yaml:"dama"`
	RandomAccess RandomAccessConfig `yaml:"random_access"`
	Traffic      TrafficConfig      `yaml:"traffic"`
	Cno          CnoConfig          `yaml:"cno"`
	Orbit        *OrbitConfig       `yaml:"orbit"`
}

// BeamConfig holds the beam scheduler settings.
type BeamConfig struct {
	ID                          uint32        `yaml:"id"`
	Terminals                   int           `yaml:"terminals"`
	MaxFrameBytes               int           `yaml:"max_frame_bytes"`
	MaxRcCount                  int           `yaml:"max_rc_count"`
	CnoEstimationMode           string        `yaml:"cno_estimation_mode"`
	CnoEstimationWindow         time.Duration `yaml:"cno_estimation_window"`
	MaxTwoWayPropagationDelay   time.Duration `yaml:"max_two_way_propagation_delay"`
	MaxTbtpTxAndProcessingDelay time.Duration `yaml:"max_tbtp_tx_and_processing_delay"`
}

// SuperframeConfig describes superframe 0 of the sequence.
type SuperframeConfig struct {
	SequenceID uint8           `yaml:"sequence_id"`
	Duration   time.Duration   `yaml:"duration"`
	Frames     []FrameConfig   `yaml:"frames"`
	RaChannels []RaChannelSpec `yaml:"ra_channels"`
}

// FrameConfig describes one frame.
type FrameConfig struct {
	ID               uint8   `yaml:"id"`
	Carriers         uint32  `yaml:"carriers"`
	TimeSlots        uint32  `yaml:"time_slots"`
	SlotPayloadBytes uint32  `yaml:"slot_payload_bytes"`
	MinCnoDbHz       float64 `yaml:"min_cno_dbhz"`
	RandomAccess     bool    `yaml:"random_access"`
}

// RaChannelSpec maps a random access allocation channel onto a frame.
type RaChannelSpec struct {
	FrameID      uint8  `yaml:"frame_id"`
	PayloadBytes uint32 `yaml:"payload_bytes"`
}

// DamaConfig selects the demand-assignment mechanism of the terminals.
type DamaConfig struct {
	Mode                     string `yaml:"mode"`
	CraKbps                  uint32 `yaml:"cra_kbps"`
	MinRbdcKbps              uint32 `yaml:"min_rbdc_kbps"`
	MaxRbdcKbps              uint32 `yaml:"max_rbdc_kbps"`
	MaxBacklogBytes          uint32 `yaml:"max_backlog_bytes"`
	DynamicRatePersistence   uint8  `yaml:"dynamic_rate_persistence"`
	VolumeBacklogPersistence uint8  `yaml:"volume_backlog_persistence"`
}

// RandomAccessConfig configures contention access.
type RandomAccessConfig struct {
	Mode                         string                  `yaml:"mode"`
	ControlRandomizationInterval time.Duration           `yaml:"control_randomization_interval"`
	Channels                     []AllocationChannelSpec `yaml:"channels"`
}

// AllocationChannelSpec holds the CRDSA parameters of one channel.
type AllocationChannelSpec struct {
	MinRandomization          int           `yaml:"min_randomization"`
	MaxRandomization          int           `yaml:"max_randomization"`
	Instances                 uint32        `yaml:"instances"`
	MaxUniquePayloadPerBlock  uint32        `yaml:"max_unique_payload_per_block"`
	MaxConsecutiveBlocks      uint32        `yaml:"max_consecutive_blocks"`
	MinIdleBlocks             uint32        `yaml:"min_idle_blocks"`
	BackoffProbabilityRaw     uint16        `yaml:"backoff_probability_raw"`
	BackoffTime               time.Duration `yaml:"backoff_time"`
	MaximumBackoffProbability float64       `yaml:"maximum_backoff_probability"`
}

// TrafficConfig describes the on/off constant bit rate source of every
// terminal.
type TrafficConfig struct {
	DataRateKbps       uint32        `yaml:"data_rate_kbps"`
	PacketBytes        uint32        `yaml:"packet_bytes"`
	OnTimeMin          time.Duration `yaml:"on_time_min"`
	OnTimeMax          time.Duration `yaml:"on_time_max"`
	OffTimeMin         time.Duration `yaml:"off_time_min"`
	OffTimeMax         time.Duration `yaml:"off_time_max"`
	StartStagger       time.Duration `yaml:"start_stagger"`
	CapacityRequestsAt time.Duration `yaml:"capacity_request_interval"`
}

// CnoConfig drives the synthetic C/N0 reports.
type CnoConfig struct {
	MeanDbHz       float64       `yaml:"mean_dbhz"`
	SpreadDb       float64       `yaml:"spread_db"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// OrbitConfig derives the propagation delay from a satellite orbit instead
// of the fixed beam setting.
type OrbitConfig struct {
	TleLine1        string        `yaml:"tle_line1"`
	TleLine2        string        `yaml:"tle_line2"`
	Gateway         SiteConfig    `yaml:"gateway"`
	Terminals       []SiteConfig  `yaml:"terminals"`
	MinElevationDeg float64       `yaml:"min_elevation_deg"`
	Horizon         time.Duration `yaml:"horizon"`
	Step            time.Duration `yaml:"step"`
}

// SiteConfig is a ground location.
type SiteConfig struct {
	Name   string  `yaml:"name"`
	LatDeg float64 `yaml:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg"`
	AltKm  float64 `yaml:"alt_km"`
}

// Load reads and validates a scenario file. Unknown keys are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario, fills defaults and validates it.
func Parse(data []byte) (*Scenario, error) {
	s := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Default returns the single beam DAMA on/off scenario.
func Default() *Scenario {
	s := &Scenario{
		Seed:     1,
		Duration: 60 * time.Second,
		Epoch:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Beam: BeamConfig{
			ID:                          18,
			Terminals:                   100,
			MaxFrameBytes:               1500,
			MaxRcCount:                  1,
			CnoEstimationMode:           cno.ModeLast.String(),
			CnoEstimationWindow:         cno.DefaultWindow,
			MaxTwoWayPropagationDelay:   560 * time.Millisecond,
			MaxTbtpTxAndProcessingDelay: 100 * time.Millisecond,
		},
		Dama: DamaConfig{
			Mode:                     DamaRbdc,
			MinRbdcKbps:              64,
			MaxRbdcKbps:              2048,
			DynamicRatePersistence:   5,
			VolumeBacklogPersistence: 5,
		},
		RandomAccess: RandomAccessConfig{
			Mode:                         randomaccess.ModeAnyAvailable.String(),
			ControlRandomizationInterval: 100 * time.Millisecond,
		},
		Traffic: TrafficConfig{
			DataRateKbps: 128,
			PacketBytes:  1280,
			OnTimeMin:    2 * time.Second,
			OnTimeMax:    15 * time.Second,
			OffTimeMin:   2 * time.Second,
			OffTimeMax:   15 * time.Second,
			StartStagger: 10 * time.Millisecond,
		},
		Cno: CnoConfig{
			MeanDbHz:       70,
			SpreadDb:       3,
			SampleInterval: 100 * time.Millisecond,
		},
	}
	return s
}

func (s *Scenario) applyDefaults() {
	if s.Superframe.Duration == 0 {
		s.Superframe.Duration = 100 * time.Millisecond
	}
	if len(s.Superframe.Frames) == 0 {
		s.Superframe.Frames = []FrameConfig{
			{ID: 0, Carriers: 32, TimeSlots: 32 * 8, SlotPayloadBytes: 100, MinCnoDbHz: 60},
			{ID: 1, Carriers: 16, TimeSlots: 16 * 16, SlotPayloadBytes: 200, MinCnoDbHz: 66},
			{ID: 2, Carriers: 1, TimeSlots: 80, SlotPayloadBytes: 38, RandomAccess: true},
		}
		if len(s.Superframe.RaChannels) == 0 {
			s.Superframe.RaChannels = []RaChannelSpec{{FrameID: 2, PayloadBytes: 38}}
		}
	}
	if len(s.RandomAccess.Channels) == 0 {
		for range s.Superframe.RaChannels {
			s.RandomAccess.Channels = append(s.RandomAccess.Channels, defaultChannel())
		}
	}
	if s.Traffic.CapacityRequestsAt == 0 {
		s.Traffic.CapacityRequestsAt = s.Superframe.Duration
	}
}

func defaultChannel() AllocationChannelSpec {
	svc := model.DefaultServiceProfile().RaServices[0]
	return AllocationChannelSpec{
		MinRandomization:          svc.MinRandomizationValue,
		MaxRandomization:          svc.MaxRandomizationValue,
		Instances:                 svc.NumberOfInstances,
		MaxUniquePayloadPerBlock:  svc.MaximumUniquePayloadPerBlock,
		MaxConsecutiveBlocks:      svc.MaximumConsecutiveBlockAccessed,
		MinIdleBlocks:             svc.MinimumIdleBlock,
		BackoffProbabilityRaw:     svc.BackOffProbability,
		BackoffTime:               svc.BackOffTime,
		MaximumBackoffProbability: svc.MaximumBackoffProbability,
	}
}

// Validate checks the scenario rules that the components do not check
// themselves, then builds the sequence and profile to surface theirs.
func (s *Scenario) Validate() error {
	switch {
	case s.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive, got %s", ErrInvalidScenario, s.Duration)
	case s.Beam.Terminals < 0:
		return fmt.Errorf("%w: terminals must be >= 0, got %d", ErrInvalidScenario, s.Beam.Terminals)
	case s.Traffic.DataRateKbps == 0:
		return fmt.Errorf("%w: traffic data_rate_kbps must be positive", ErrInvalidScenario)
	case s.Traffic.PacketBytes == 0:
		return fmt.Errorf("%w: traffic packet_bytes must be positive", ErrInvalidScenario)
	case s.Traffic.OnTimeMin <= 0 || s.Traffic.OnTimeMax < s.Traffic.OnTimeMin:
		return fmt.Errorf("%w: on time range [%s, %s]", ErrInvalidScenario, s.Traffic.OnTimeMin, s.Traffic.OnTimeMax)
	case s.Traffic.OffTimeMin <= 0 || s.Traffic.OffTimeMax < s.Traffic.OffTimeMin:
		return fmt.Errorf("%w: off time range [%s, %s]", ErrInvalidScenario, s.Traffic.OffTimeMin, s.Traffic.OffTimeMax)
	case s.Traffic.CapacityRequestsAt <= 0:
		return fmt.Errorf("%w: capacity_request_interval must be positive", ErrInvalidScenario)
	case s.Cno.SampleInterval <= 0:
		return fmt.Errorf("%w: cno sample_interval must be positive", ErrInvalidScenario)
	case s.Cno.SpreadDb < 0:
		return fmt.Errorf("%w: cno spread_db must be >= 0", ErrInvalidScenario)
	}
	if _, err := s.DamaProfileKind(); err != nil {
		return err
	}
	if _, err := s.CnoEstimationMode(); err != nil {
		return err
	}
	if _, err := s.AccessMode(); err != nil {
		return err
	}
	if len(s.RandomAccess.Channels) != len(s.Superframe.RaChannels) {
		return fmt.Errorf("%w: %d random access channel settings for %d superframe RA channels",
			ErrInvalidScenario, len(s.RandomAccess.Channels), len(s.Superframe.RaChannels))
	}
	if err := s.Sequence().Validate(); err != nil {
		return err
	}
	profile := s.Profile()
	if err := profile.Validate(); err != nil {
		return err
	}
	if _, err := randomaccess.NewConf(profile, s.Sequence().Superframe(0)); err != nil {
		return err
	}
	if o := s.Orbit; o != nil {
		if o.TleLine1 == "" || o.TleLine2 == "" {
			return fmt.Errorf("%w: orbit requires both TLE lines", ErrInvalidScenario)
		}
		if len(o.Terminals) == 0 {
			return fmt.Errorf("%w: orbit requires at least one terminal site", ErrInvalidScenario)
		}
		if o.Step <= 0 || o.Horizon < 0 {
			return fmt.Errorf("%w: orbit horizon %s step %s", ErrInvalidScenario, o.Horizon, o.Step)
		}
	}
	return nil
}

// DamaProfileKind returns the normalised DAMA mode.
func (s *Scenario) DamaProfileKind() (string, error) {
	switch m := strings.ToLower(s.Dama.Mode); m {
	case DamaRbdc, DamaVbdc:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown dama mode %q; valid: rbdc, vbdc", ErrInvalidScenario, s.Dama.Mode)
	}
}

// CnoEstimationMode parses the beam estimation mode.
func (s *Scenario) CnoEstimationMode() (cno.Mode, error) {
	return cno.ParseMode(s.Beam.CnoEstimationMode)
}

// AccessMode parses the contention access mode.
func (s *Scenario) AccessMode() (randomaccess.Mode, error) {
	return randomaccess.ParseMode(s.RandomAccess.Mode)
}

// Sequence builds the superframe sequence.
func (s *Scenario) Sequence() *model.SuperframeSequence {
	sf := model.SuperframeConf{Duration: s.Superframe.Duration}
	for _, f := range s.Superframe.Frames {
		sf.Frames = append(sf.Frames, model.FrameConf{
			ID:               f.ID,
			CarrierCount:     f.Carriers,
			TimeSlotCount:    f.TimeSlots,
			SlotPayloadBytes: f.SlotPayloadBytes,
			MinCnoDbHz:       f.MinCnoDbHz,
			RandomAccess:     f.RandomAccess,
		})
	}
	for _, ch := range s.Superframe.RaChannels {
		sf.RaChannels = append(sf.RaChannels, model.RaChannel{FrameID: ch.FrameID, PayloadBytes: ch.PayloadBytes})
	}
	return &model.SuperframeSequence{
		ID:          s.Superframe.SequenceID,
		Epoch:       s.Epoch,
		Superframes: []model.SuperframeConf{sf},
	}
}

// Profile builds the service profile every terminal is registered with.
// RBDC scenarios request rate; VBDC scenarios request volume.
func (s *Scenario) Profile() model.ServiceProfile {
	da := model.DaService{
		ConstantAssignmentProvided: s.Dama.CraKbps > 0,
		ConstantServiceRateKbps:    s.Dama.CraKbps,
	}
	if strings.EqualFold(s.Dama.Mode, DamaVbdc) {
		da.VolumeAllowed = true
		da.MaximumBacklogBytes = s.Dama.MaxBacklogBytes
	} else {
		da.RbdcAllowed = true
		da.MinimumServiceRateKbps = s.Dama.MinRbdcKbps
		da.MaximumServiceRateKbps = s.Dama.MaxRbdcKbps
	}

	p := model.ServiceProfile{
		DaServices:                          []model.DaService{da},
		DynamicRatePersistence:              s.Dama.DynamicRatePersistence,
		VolumeBacklogPersistence:            s.Dama.VolumeBacklogPersistence,
		DefaultControlRandomizationInterval: s.RandomAccess.ControlRandomizationInterval,
	}
	for _, ch := range s.RandomAccess.Channels {
		p.RaServices = append(p.RaServices, model.RaService{
			MaximumUniquePayloadPerBlock:    ch.MaxUniquePayloadPerBlock,
			MaximumConsecutiveBlockAccessed: ch.MaxConsecutiveBlocks,
			MinimumIdleBlock:                ch.MinIdleBlocks,
			NumberOfInstances:               ch.Instances,
			BackOffProbability:              ch.BackoffProbabilityRaw,
			BackOffTime:                     ch.BackoffTime,
			MinRandomizationValue:           ch.MinRandomization,
			MaxRandomizationValue:           ch.MaxRandomization,
			MaximumBackoffProbability:       ch.MaximumBackoffProbability,
		})
	}
	return p
}
