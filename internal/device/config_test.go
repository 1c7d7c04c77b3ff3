package device

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planbiir/drivelog/internal/geo"
	"github.com/planbiir/drivelog/internal/pipeline"
	"github.com/planbiir/drivelog/internal/track"
)

const sample = `
import:
  min_points: 3
  ignore:
    tracks: [2021-05-01T10:00:00Z]
    segments: ["2021-05-02 08:30:00"]
devices:
  _default:
    stages:
      - stage: split_trksegs
        threshold: 300
      - stage: simplify
        epsilon: 0.5
  garmin:
    match: ["DriveSmart"]
    stages:
      - stage: filter_speed
        min_speed: 1.0
        rolling_window: 3
        method: extended
      - stage: merge_segments
        max_seconds: 10m
  phone:
    match: ["myTracks"]
    speed_unit: km/h
    stages:
      - stage: trim
        min_speed: 1
        on_no_motion: drop_segment
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Import.MinPoints)
	assert.True(t, cfg.Import.Ignore.Track(time.Date(2021, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, cfg.Import.Ignore.Segment(time.Date(2021, 5, 2, 8, 30, 0, 0, time.UTC)))
	assert.False(t, cfg.Import.Ignore.Track(time.Date(2021, 5, 2, 8, 30, 0, 0, time.UTC)))
	assert.Equal(t, []string{"_default", "garmin", "phone"}, cfg.DeviceNames())

	def := cfg.Pipeline(DefaultDevice)
	require.Len(t, def.Stages, 2)
	assert.Equal(t, pipeline.StageSplit, def.Stages[0].Name)
	assert.Equal(t, 300*time.Second, def.Stages[0].Params.Threshold)
	assert.Equal(t, 0.5, def.Stages[1].Params.Epsilon)

	garmin := cfg.Pipeline("garmin")
	require.Len(t, garmin.Stages, 2)
	assert.Equal(t, pipeline.MethodExtended, garmin.Stages[0].Params.Method)
	assert.Equal(t, 3, garmin.Stages[0].Params.RollingWindow)
	assert.Equal(t, 10*time.Minute, garmin.Stages[1].Params.MaxGap)

	phone := cfg.Pipeline("phone")
	assert.InDelta(t, 1/3.6, phone.SpeedScale, 1e-12)
	assert.Equal(t, pipeline.NoMotionDropSegment, phone.Stages[0].Params.OnNoMotion)
}

func TestResolve(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	tests := []struct {
		creator string
		want    string
	}{
		{"Garmin DriveSmart 65", "garmin"},
		{"myTracks 3.2 for iOS", "phone"},
		{"Bad Elf GPS Pro+", DefaultDevice},
		{"", DefaultDevice},
	}
	for _, tt := range tests {
		t.Run(tt.creator, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Resolve(tt.creator).Device)
		})
	}

	assert.Equal(t, DefaultDevice, cfg.Pipeline("unknown").Device)
}

func TestParseMaxTimeTravel(t *testing.T) {
	cfg, err := Parse(strings.NewReader("devices:\n  _default:\n    stages:\n      - stage: remove_outliers\n        max_time_travel: 15\n"))
	require.NoError(t, err)

	stages := cfg.Pipeline(DefaultDevice).Stages
	require.Len(t, stages, 1)
	assert.Equal(t, 15, stages[0].Params.MaxTimeTravel)
	assert.Zero(t, stages[0].Params.MaxSpeed)
}

func TestParseConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		device string
		reason string
	}{
		{
			name:   "missing default",
			yaml:   "devices:\n  garmin:\n    stages: []\n",
			device: DefaultDevice,
			reason: "missing default device",
		},
		{
			name:   "missing required threshold",
			yaml:   "devices:\n  _default:\n    stages:\n      - stage: split_trksegs\n",
			device: DefaultDevice,
			reason: "threshold",
		},
		{
			name:   "missing min_speed",
			yaml:   "devices:\n  _default:\n    stages: []\n  x:\n    stages:\n      - stage: trim\n",
			device: "x",
			reason: "min_speed",
		},
		{
			name:   "unknown stage",
			yaml:   "devices:\n  _default:\n    stages:\n      - stage: smooth\n",
			device: DefaultDevice,
			reason: "unknown stage",
		},
		{
			name:   "option of another stage",
			yaml:   "devices:\n  _default:\n    stages:\n      - stage: merge_segments\n        max_seconds: 5\n        epsilon: 1\n",
			device: DefaultDevice,
			reason: "epsilon",
		},
		{
			name:   "zero max_time_travel",
			yaml:   "devices:\n  _default:\n    stages:\n      - stage: remove_outliers\n        max_time_travel: 0\n",
			device: DefaultDevice,
			reason: "max_time_travel",
		},
		{
			name:   "max_time_travel outside remove_outliers",
			yaml:   "devices:\n  _default:\n    stages:\n      - stage: trim\n        min_speed: 1\n        max_time_travel: 10\n",
			device: DefaultDevice,
			reason: "max_time_travel",
		},
		{
			name:   "both epsilons",
			yaml:   "devices:\n  _default:\n    stages:\n      - stage: simplify\n        epsilon: 1\n        epsilon_deg: 0.00001\n",
			device: DefaultDevice,
			reason: "only one",
		},
		{
			name:   "bad method",
			yaml:   "devices:\n  _default:\n    stages:\n      - stage: filter_speed\n        min_speed: 1\n        method: average\n",
			device: DefaultDevice,
			reason: "method",
		},
		{
			name:   "bad speed unit",
			yaml:   "devices:\n  _default:\n    speed_unit: furlongs\n    stages: []\n",
			device: DefaultDevice,
			reason: "speed_unit",
		},
		{
			name:   "unknown key",
			yaml:   "devices:\n  _default:\n    stagez: []\n",
			reason: "failed to parse",
		},
		{
			name:   "negative min points",
			yaml:   "import:\n  min_points: -1\ndevices:\n  _default:\n    stages: []\n",
			reason: "min_points",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %T: %v", err, err)
			assert.Equal(t, tt.device, cfgErr.Device)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestEpsilonDegreesConverted(t *testing.T) {
	cfg, err := Parse(strings.NewReader("devices:\n  _default:\n    stages:\n      - stage: simplify\n        epsilon_deg: 0.000002\n"))
	require.NoError(t, err)

	eps := cfg.Pipeline(DefaultDevice).Stages[0].Params.Epsilon
	assert.InDelta(t, geo.DegreesToMeters(0.000002), eps, 1e-12)
	assert.InDelta(t, 0.2224, eps, 0.001)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 2, cfg.Import.MinPoints)
	assert.Equal(t, "bad_elf", cfg.Resolve("Bad Elf 2300").Device)
	assert.Equal(t, "garmin", cfg.Resolve("Garmin DriveSmart 61").Device)
	assert.Equal(t, "mytracks", cfg.Resolve("myTracks").Device)
	assert.Equal(t, DefaultDevice, cfg.Resolve("GPSLogger").Device)

	for _, name := range cfg.DeviceNames() {
		assert.NotEmpty(t, cfg.Pipeline(name).Stages, name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	require.NoError(t, os.WriteFile(path, DefaultYAML(), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.DeviceNames(), 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNormalizeSpeeds(t *testing.T) {
	tr := &track.Track{Segments: []track.Segment{{Points: []track.Point{
		{Speed: track.Float(36)},
		{},
	}}}}

	Pipeline{SpeedScale: 1 / 3.6}.NormalizeSpeeds(tr)

	assert.InDelta(t, 10.0, *tr.Segments[0].Points[0].Speed, 1e-9)
	assert.Nil(t, tr.Segments[0].Points[1].Speed)
}
