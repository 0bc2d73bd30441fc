package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/rtn-access-simulator/internal/cno"
	"github.com/signalsfoundry/rtn-access-simulator/internal/randomaccess"
	"github.com/signalsfoundry/rtn-access-simulator/model"
)

func TestParseEmptyUsesDefaults(t *testing.T) {
	s, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, uint32(18), s.Beam.ID)
	assert.Equal(t, 100, s.Beam.Terminals)
	assert.Equal(t, 100*time.Millisecond, s.Superframe.Duration)
	assert.Len(t, s.Superframe.Frames, 3)
	assert.Len(t, s.RandomAccess.Channels, 1)
	assert.Equal(t, s.Superframe.Duration, s.Traffic.CapacityRequestsAt)

	profile := s.Profile()
	require.Len(t, profile.DaServices, 1)
	assert.True(t, profile.DaServices[0].RbdcAllowed)
	assert.Equal(t, uint32(64), profile.DaServices[0].MinimumServiceRateKbps)
	assert.Equal(t, model.DefaultServiceProfile().RaServices, profile.RaServices)
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
seed: 42
duration: 5s
epoch: 2026-03-01T00:00:00Z
beam:
  id: 7
  terminals: 4
  cno_estimation_mode: average
dama:
  mode: vbdc
  max_backlog_bytes: 65000
random_access:
  mode: crdsa
superframe:
  duration: 50ms
  frames:
    - {id: 0, carriers: 2, time_slots: 16, slot_payload_bytes: 100}
    - {id: 1, carriers: 1, time_slots: 40, slot_payload_bytes: 38, random_access: true}
  ra_channels:
    - {frame_id: 1, payload_bytes: 38}
`)
	s, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, int64(42), s.Seed)
	assert.Equal(t, 5*time.Second, s.Duration)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), s.Epoch.UTC())
	assert.Equal(t, uint32(7), s.Beam.ID)
	assert.Equal(t, 1500, s.Beam.MaxFrameBytes, "unset fields keep defaults")
	assert.Equal(t, 50*time.Millisecond, s.Traffic.CapacityRequestsAt)

	mode, err := s.CnoEstimationMode()
	require.NoError(t, err)
	assert.Equal(t, cno.ModeAverage, mode)

	access, err := s.AccessMode()
	require.NoError(t, err)
	assert.Equal(t, randomaccess.ModeCrdsa, access)

	profile := s.Profile()
	da := profile.DaServices[0]
	assert.True(t, da.VolumeAllowed)
	assert.False(t, da.RbdcAllowed)
	assert.Equal(t, uint32(65000), da.MaximumBacklogBytes)

	seq := s.Sequence()
	require.NoError(t, seq.Validate())
	assert.Equal(t, s.Epoch, seq.Epoch)
	assert.Equal(t, uint32(40), seq.Superframe(0).Frames[1].TimeSlotCount)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("beam:\n  idd: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing scenario")
}

func TestValidateRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Scenario)
		target error
	}{
		{"zero duration", func(s *Scenario) { s.Duration = 0 }, ErrInvalidScenario},
		{"negative terminals", func(s *Scenario) { s.Beam.Terminals = -1 }, ErrInvalidScenario},
		{"on range", func(s *Scenario) { s.Traffic.OnTimeMax = time.Second }, ErrInvalidScenario},
		{"dama mode", func(s *Scenario) { s.Dama.Mode = "cra" }, ErrInvalidScenario},
		{"cno mode", func(s *Scenario) { s.Beam.CnoEstimationMode = "median" }, cno.ErrUnsupportedMode},
		{"channel count", func(s *Scenario) { s.RandomAccess.Channels = nil }, ErrInvalidScenario},
		{"bad frame", func(s *Scenario) { s.Superframe.Frames[0].Carriers = 0 }, model.ErrInvalidSuperframe},
		{"rbdc range", func(s *Scenario) { s.Dama.MinRbdcKbps = 4096 }, model.ErrInvalidServiceProfile},
		{"ra range", func(s *Scenario) { s.RandomAccess.Channels[0].MaxRandomization = 1 }, randomaccess.ErrInvalidChannelConfig},
		{"orbit without tle", func(s *Scenario) { s.Orbit = &OrbitConfig{Step: time.Second} }, ErrInvalidScenario},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Default()
			s.applyDefaults()
			require.NoError(t, s.Validate())
			tc.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.target), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("beam:\n  terminals: 2\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Beam.Terminals)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSampleScenarioIsValid(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "configs", "scenario.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, s.Duration)
	assert.Equal(t, Default().Beam, s.Beam)
	assert.Equal(t, Default().Traffic.DataRateKbps, s.Traffic.DataRateKbps)
	assert.Nil(t, s.Orbit)
}
