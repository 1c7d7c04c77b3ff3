package device

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts either a Go duration string ("10m", "90s") or a plain
// number of seconds in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, s)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp is a UTC instant written as RFC 3339 in YAML. Values without a
// zone are taken as UTC.
type Timestamp struct {
	time.Time
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (ts *Timestamp) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timestamp must be a scalar", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("line %d: invalid timestamp %q", value.Line, s)
}

// MarshalYAML implements yaml.Marshaler.
func (ts Timestamp) MarshalYAML() (interface{}, error) {
	return ts.UTC().Format(time.RFC3339Nano), nil
}

// speedScales converts a recorded speed unit to m/s.
var speedScales = map[string]float64{
	"":      1,
	"m/s":   1,
	"km/h":  1 / 3.6,
	"mph":   0.44704,
	"knots": 1852.0 / 3600,
}
