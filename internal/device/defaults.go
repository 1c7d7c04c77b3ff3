package device

import (
	"bytes"
	_ "embed"
)

//go:embed default.yaml
var defaultYAML []byte

// Default returns the built-in device pipelines.
func Default() *Config {
	cfg, err := Parse(bytes.NewReader(defaultYAML))
	if err != nil {
		panic("built-in device config: " + err.Error())
	}
	return cfg
}

// DefaultYAML returns the built-in device file, for writing a starter copy.
func DefaultYAML() []byte {
	return bytes.Clone(defaultYAML)
}
