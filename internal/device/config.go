// Package device maps recording devices to their cleanup pipelines and holds
// the import settings read from the same YAML file.
package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/planbiir/drivelog/internal/geo"
	"github.com/planbiir/drivelog/internal/pipeline"
	"github.com/planbiir/drivelog/internal/track"
)

// DefaultDevice is used for creators no profile matches.
const DefaultDevice = "_default"

// Config is the device pipeline file.
type Config struct {
	Import  ImportConfig       `yaml:"import"`
	Devices map[string]Profile `yaml:"devices"`

	pipelines map[string]Pipeline
}

// ImportConfig holds settings the importer applies to every device.
type ImportConfig struct {
	// MinPoints drops processed segments shorter than this.
	MinPoints int        `yaml:"min_points"`
	Ignore    IgnoreList `yaml:"ignore"`
}

// IgnoreList suppresses raw tracks and segments by their first point time.
type IgnoreList struct {
	Tracks   []Timestamp `yaml:"tracks"`
	Segments []Timestamp `yaml:"segments"`
}

// Track reports whether a raw track starting at t is ignored.
func (l IgnoreList) Track(t time.Time) bool {
	return lo.ContainsBy(l.Tracks, func(ts Timestamp) bool { return ts.Equal(t) })
}

// Segment reports whether a raw segment starting at t is ignored.
func (l IgnoreList) Segment(t time.Time) bool {
	return lo.ContainsBy(l.Segments, func(ts Timestamp) bool { return ts.Equal(t) })
}

// Profile is one device entry of the file.
type Profile struct {
	// Match lists substrings of the GPX creator identifying the device.
	Match     []string      `yaml:"match,omitempty"`
	SpeedUnit string        `yaml:"speed_unit,omitempty"`
	Stages    []StageConfig `yaml:"stages"`
}

// StageConfig is a stage entry. Pointer fields tell an option left out from
// one set to zero.
type StageConfig struct {
	Stage string `yaml:"stage"`

	MaxSpeed      *float64  `yaml:"max_speed,omitempty"`
	MaxTimeTravel *int      `yaml:"max_time_travel,omitempty"`
	MinSpeed      *float64  `yaml:"min_speed,omitempty"`
	RollingWindow *int      `yaml:"rolling_window,omitempty"`
	Method        *string   `yaml:"method,omitempty"`
	OnNoMotion    *string   `yaml:"on_no_motion,omitempty"`
	Threshold     *Duration `yaml:"threshold,omitempty"`
	MaxSeconds    *Duration `yaml:"max_seconds,omitempty"`
	Epsilon       *float64  `yaml:"epsilon,omitempty"`
	EpsilonDeg    *float64  `yaml:"epsilon_deg,omitempty"`
}

// Pipeline is the compiled stage list for one device.
type Pipeline struct {
	Device     string
	SpeedScale float64
	Stages     []pipeline.Stage
}

// NormalizeSpeeds converts recorded speeds to m/s.
func (p Pipeline) NormalizeSpeeds(t *track.Track) {
	if p.SpeedScale == 0 || p.SpeedScale == 1 {
		return
	}
	for si := range t.Segments {
		for pi := range t.Segments[si].Points {
			if s := t.Segments[si].Points[pi].Speed; s != nil {
				t.Segments[si].Points[pi].Speed = track.Float(*s * p.SpeedScale)
			}
		}
	}
}

// ConfigurationError reports a device file that cannot be used.
type ConfigurationError struct {
	Device string
	Stage  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Device != "" {
		fmt.Fprintf(&b, " in device %q", e.Device)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " stage %q", e.Stage)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Load reads and validates a device pipeline file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: "failed to open " + path, Err: err}
	}
	defer f.Close()

	return Parse(f)
}

// Parse decodes and validates a device pipeline file. Unknown keys are errors.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ConfigurationError{Reason: "failed to read", Err: err}
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Reason: "failed to parse", Err: err}
	}

	if err := cfg.compile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve returns the pipeline for a GPX creator string. Devices are tried in
// name order and the first whose match substring occurs in creator wins.
func (c *Config) Resolve(creator string) Pipeline {
	for _, name := range c.DeviceNames() {
		if name == DefaultDevice {
			continue
		}
		for _, m := range c.Devices[name].Match {
			if m != "" && strings.Contains(creator, m) {
				return c.pipelines[name]
			}
		}
	}
	return c.pipelines[DefaultDevice]
}

// Pipeline returns the compiled pipeline of a device by name, falling back
// to the default device for unknown names.
func (c *Config) Pipeline(name string) Pipeline {
	if p, ok := c.pipelines[name]; ok {
		return p
	}
	return c.pipelines[DefaultDevice]
}

// DeviceNames returns the configured device names sorted.
func (c *Config) DeviceNames() []string {
	names := lo.Keys(c.Devices)
	slices.Sort(names)
	return names
}

func (c *Config) compile() error {
	if c.Import.MinPoints < 0 {
		return &ConfigurationError{Reason: "import.min_points must not be negative"}
	}
	if _, ok := c.Devices[DefaultDevice]; !ok {
		return &ConfigurationError{Device: DefaultDevice, Reason: "missing default device"}
	}

	c.pipelines = make(map[string]Pipeline, len(c.Devices))
	for _, name := range c.DeviceNames() {
		profile := c.Devices[name]

		scale, ok := speedScales[profile.SpeedUnit]
		if !ok {
			return &ConfigurationError{Device: name, Reason: fmt.Sprintf("unknown speed_unit %q", profile.SpeedUnit)}
		}

		stages := make([]pipeline.Stage, 0, len(profile.Stages))
		for _, sc := range profile.Stages {
			st, err := sc.compile()
			if err != nil {
				var cfgErr *ConfigurationError
				if errors.As(err, &cfgErr) {
					cfgErr.Device = name
				}
				return err
			}
			stages = append(stages, st)
		}

		c.pipelines[name] = Pipeline{Device: name, SpeedScale: scale, Stages: stages}
	}
	return nil
}

// allowed lists the options each stage recognises.
var allowed = map[pipeline.Name][]string{
	pipeline.StageRemoveOutliers: {"max_speed", "max_time_travel"},
	pipeline.StageFilterSpeed:    {"min_speed", "rolling_window", "method"},
	pipeline.StageSplit:          {"threshold"},
	pipeline.StageMerge:          {"max_seconds"},
	pipeline.StageTrim:           {"min_speed", "rolling_window", "on_no_motion"},
	pipeline.StageSimplify:       {"epsilon", "epsilon_deg"},
}

func (sc StageConfig) setOptions() []string {
	var set []string
	add := func(name string, isSet bool) {
		if isSet {
			set = append(set, name)
		}
	}
	add("max_speed", sc.MaxSpeed != nil)
	add("max_time_travel", sc.MaxTimeTravel != nil)
	add("min_speed", sc.MinSpeed != nil)
	add("rolling_window", sc.RollingWindow != nil)
	add("method", sc.Method != nil)
	add("on_no_motion", sc.OnNoMotion != nil)
	add("threshold", sc.Threshold != nil)
	add("max_seconds", sc.MaxSeconds != nil)
	add("epsilon", sc.Epsilon != nil)
	add("epsilon_deg", sc.EpsilonDeg != nil)
	return set
}

func (sc StageConfig) compile() (pipeline.Stage, error) {
	name := pipeline.Name(sc.Stage)
	fail := func(format string, args ...any) (pipeline.Stage, error) {
		return pipeline.Stage{}, &ConfigurationError{Stage: sc.Stage, Reason: fmt.Sprintf(format, args...)}
	}

	recognised, ok := allowed[name]
	if !ok {
		return fail("unknown stage")
	}
	if extra, _ := lo.Difference(sc.setOptions(), recognised); len(extra) > 0 {
		return fail("options not recognised by this stage: %s", strings.Join(extra, ", "))
	}

	p := pipeline.Params{}
	if sc.RollingWindow != nil {
		if *sc.RollingWindow < 1 {
			return fail("rolling_window must be at least 1")
		}
		p.RollingWindow = *sc.RollingWindow
	}

	switch name {
	case pipeline.StageRemoveOutliers:
		if sc.MaxSpeed != nil {
			if *sc.MaxSpeed <= 0 {
				return fail("max_speed must be positive")
			}
			p.MaxSpeed = *sc.MaxSpeed
		}
		if sc.MaxTimeTravel != nil {
			if *sc.MaxTimeTravel < 1 {
				return fail("max_time_travel must be at least 1")
			}
			p.MaxTimeTravel = *sc.MaxTimeTravel
		}

	case pipeline.StageFilterSpeed:
		if sc.MinSpeed == nil {
			return fail("missing required option min_speed")
		}
		p.MinSpeed = *sc.MinSpeed
		if sc.Method != nil {
			m := pipeline.Method(*sc.Method)
			if m != pipeline.MethodCenter && m != pipeline.MethodExtended {
				return fail("method must be %q or %q", pipeline.MethodCenter, pipeline.MethodExtended)
			}
			p.Method = m
		}

	case pipeline.StageSplit:
		if sc.Threshold == nil {
			return fail("missing required option threshold")
		}
		if *sc.Threshold <= 0 {
			return fail("threshold must be positive")
		}
		p.Threshold = time.Duration(*sc.Threshold)

	case pipeline.StageMerge:
		if sc.MaxSeconds == nil {
			return fail("missing required option max_seconds")
		}
		if *sc.MaxSeconds < 0 {
			return fail("max_seconds must not be negative")
		}
		p.MaxGap = time.Duration(*sc.MaxSeconds)

	case pipeline.StageTrim:
		if sc.MinSpeed == nil {
			return fail("missing required option min_speed")
		}
		p.MinSpeed = *sc.MinSpeed
		if sc.OnNoMotion != nil {
			nm := pipeline.NoMotion(*sc.OnNoMotion)
			if nm != pipeline.NoMotionReject && nm != pipeline.NoMotionDropSegment {
				return fail("on_no_motion must be %q or %q", pipeline.NoMotionReject, pipeline.NoMotionDropSegment)
			}
			p.OnNoMotion = nm
		}

	case pipeline.StageSimplify:
		switch {
		case sc.Epsilon != nil && sc.EpsilonDeg != nil:
			return fail("set only one of epsilon and epsilon_deg")
		case sc.Epsilon != nil:
			p.Epsilon = *sc.Epsilon
		case sc.EpsilonDeg != nil:
			p.Epsilon = geo.DegreesToMeters(*sc.EpsilonDeg)
		default:
			return fail("missing required option epsilon")
		}
		if p.Epsilon <= 0 {
			return fail("epsilon must be positive")
		}
	}

	return pipeline.Stage{Name: name, Params: p}, nil
}
