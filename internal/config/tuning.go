package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for detection tuning. The
// schema matches the /api/config endpoint so the same JSON can be used for
// both startup configuration and runtime updates.
type TuningConfig struct {
	// Detection params
	Threshold *float64 `json:"threshold,omitempty"` // adaptive threshold seed, volts

	// Sampling params
	SamplePeriod *string  `json:"sample_period,omitempty"` // duration string like "20ms"
	ADCBits      *int     `json:"adc_bits,omitempty"`
	ADCReference *float64 `json:"adc_reference_volts,omitempty"`

	// Reporting params
	RateUnits *string `json:"rate_units,omitempty"` // "bpm" or "hz"
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max file
// size. Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	// The detector itself accepts any threshold; the config layer still
	// rejects values outside the sensor's input range so a typo in the file
	// is caught at startup rather than read as a dead detector.
	if c.Threshold != nil {
		if *c.Threshold < 0 || *c.Threshold > 1.2 {
			return fmt.Errorf("threshold must be within the 0-1.2V input range, got %f", *c.Threshold)
		}
	}

	if c.SamplePeriod != nil && *c.SamplePeriod != "" {
		d, err := time.ParseDuration(*c.SamplePeriod)
		if err != nil {
			return fmt.Errorf("invalid sample_period '%s': %w", *c.SamplePeriod, err)
		}
		if d <= 0 {
			return fmt.Errorf("sample_period must be positive, got %s", d)
		}
	}

	if c.ADCBits != nil {
		if *c.ADCBits < 1 || *c.ADCBits > 32 {
			return fmt.Errorf("adc_bits must be between 1 and 32, got %d", *c.ADCBits)
		}
	}

	if c.ADCReference != nil {
		if *c.ADCReference <= 0 {
			return fmt.Errorf("adc_reference_volts must be positive, got %f", *c.ADCReference)
		}
	}

	if c.RateUnits != nil && *c.RateUnits != "" {
		if *c.RateUnits != "bpm" && *c.RateUnits != "hz" {
			return fmt.Errorf("rate_units must be bpm or hz, got %q", *c.RateUnits)
		}
	}

	return nil
}

// GetThreshold returns the threshold value or the default.
func (c *TuningConfig) GetThreshold() float64 {
	if c.Threshold == nil {
		return 0.65 // default: just above the 0.6 mid-scale resting level
	}
	return *c.Threshold
}

// GetSamplePeriod parses and returns the SamplePeriod as a time.Duration.
func (c *TuningConfig) GetSamplePeriod() time.Duration {
	if c.SamplePeriod == nil || *c.SamplePeriod == "" {
		return 20 * time.Millisecond // default: 50Hz sampling
	}
	d, err := time.ParseDuration(*c.SamplePeriod)
	if err != nil || d <= 0 {
		return 20 * time.Millisecond // default on parse error
	}
	return d
}

// GetADCBits returns the adc_bits value or the default.
func (c *TuningConfig) GetADCBits() int {
	if c.ADCBits == nil {
		return 12
	}
	return *c.ADCBits
}

// GetADCReference returns the adc_reference_volts value or the default.
func (c *TuningConfig) GetADCReference() float64 {
	if c.ADCReference == nil {
		return 1.2
	}
	return *c.ADCReference
}

// GetRateUnits returns the rate_units value or the default.
func (c *TuningConfig) GetRateUnits() string {
	if c.RateUnits == nil || *c.RateUnits == "" {
		return "bpm"
	}
	return *c.RateUnits
}
