package sstvcore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/n0call/sstvcore/modes"
)

// Config holds the settings an Engine is built from, matching the
// teacher's config.go shape: a struct of plain fields with yaml tags,
// loadable from a file or built directly by a caller who wants no YAML at
// all.
type Config struct {
	SampleRate        float64 `yaml:"sample_rate"`
	RingBufferSeconds float64 `yaml:"ring_buffer_seconds"`
	FFTSize           int     `yaml:"fft_size"`

	// ForceModeVIS, if nonzero, skips VIS detection entirely and decodes
	// every image as this mode's VIS code (see modes.GetByVIS).
	ForceModeVIS uint8 `yaml:"force_mode_vis,omitempty"`

	// AutoSync is loaded and saved with the config but is not read by
	// Engine: slant drift tracking and post-image correction always run,
	// whatever its value.
	AutoSync bool `yaml:"auto_sync"`
	// DecodeFSKID enables the optional post-image FSK callsign ID listen
	// window (§4.11). Additive; a missing ID is never an error.
	DecodeFSKID bool `yaml:"decode_fsk_id"`
	// Adaptive enables SNR-adaptive pixel window widening (§4.12).
	Adaptive bool `yaml:"adaptive"`
}

// DefaultConfig returns the same defaults the teacher's
// DefaultSSTVConfig does (AutoSync, DecodeFSKID, and Adaptive all on),
// plus this module's own sample-rate/buffer/FFT sizing.
func DefaultConfig() Config {
	return Config{
		SampleRate:        48000,
		RingBufferSeconds: 10,
		FFTSize:           4096,
		AutoSync:          true,
		DecodeFSKID:       true,
		Adaptive:          true,
	}
}

// LoadConfig reads and parses a YAML config file, matching the teacher's
// LoadConfig(filename) signature and wrapping error exactly the way it
// does.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("sstvcore: read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("sstvcore: parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that Config's fields describe a usable engine: a
// positive sample rate and ring buffer, a power-of-two FFT size, and (if
// set) a ForceModeVIS that resolves to a registered mode.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return newError(KindInvalidInput, "sample_rate must be positive", nil)
	}
	if c.RingBufferSeconds <= 0 {
		return newError(KindInvalidInput, "ring_buffer_seconds must be positive", nil)
	}
	if c.FFTSize <= 0 || c.FFTSize&(c.FFTSize-1) != 0 {
		return newError(KindInvalidInput, "fft_size must be a power of two", nil)
	}
	if c.ForceModeVIS != 0 && modes.GetByVIS(c.ForceModeVIS) == nil {
		return newError(KindInvalidInput, fmt.Sprintf("force_mode_vis %d is not a registered mode", c.ForceModeVIS), nil)
	}
	return nil
}
