// Package config loads and validates the sensor-fusion tuning parameters.
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

// TuningConfig represents the root configuration for tuning parameters.
// All fields are pointers so that a partial JSON file only overrides the
// values it names; the Get* accessors supply defaults for the rest.
type TuningConfig struct {
	// Presence debounce params
	DebounceWindow  *int    `json:"debounce_window,omitempty"`
	PresenceTimeout *string `json:"presence_timeout,omitempty"` // duration string like "3s"

	// Distance estimation params
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	MinValidDistance    *float64 `json:"min_valid_distance,omitempty"` // meters

	// History capacities
	CO2HistorySize      *int `json:"co2_history_size,omitempty"`
	PresenceHistorySize *int `json:"presence_history_size,omitempty"`
	DistanceHistorySize *int `json:"distance_history_size,omitempty"`
	RawDistanceWindow   *int `json:"raw_distance_window,omitempty"`

	// Telemetry framing params. Sensor firmware variants disagree on the
	// number of CSV fields and the token used for "human present", so both
	// are configurable rather than baked in.
	MinFields          *int     `json:"min_fields,omitempty"`
	PresenceTrueTokens []string `json:"presence_true_tokens,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
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
	if c.DebounceWindow != nil && *c.DebounceWindow < 1 {
		return fmt.Errorf("debounce_window must be at least 1, got %d", *c.DebounceWindow)
	}

	if c.PresenceTimeout != nil && *c.PresenceTimeout != "" {
		if _, err := time.ParseDuration(*c.PresenceTimeout); err != nil {
			return fmt.Errorf("invalid presence_timeout '%s': %w", *c.PresenceTimeout, err)
		}
	}

	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}

	if c.MinValidDistance != nil && *c.MinValidDistance < 0 {
		return fmt.Errorf("min_valid_distance must be non-negative, got %f", *c.MinValidDistance)
	}

	for name, v := range map[string]*int{
		"co2_history_size":      c.CO2HistorySize,
		"presence_history_size": c.PresenceHistorySize,
		"distance_history_size": c.DistanceHistorySize,
		"raw_distance_window":   c.RawDistanceWindow,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	if c.MinFields != nil && *c.MinFields < 2 {
		return fmt.Errorf("min_fields must be at least 2, got %d", *c.MinFields)
	}

	return nil
}

// GetDebounceWindow returns the debounce_window value or the default.
func (c *TuningConfig) GetDebounceWindow() int {
	if c.DebounceWindow == nil {
		return 5
	}
	return *c.DebounceWindow
}

// GetPresenceTimeout parses and returns the PresenceTimeout as a time.Duration.
func (c *TuningConfig) GetPresenceTimeout() time.Duration {
	if c.PresenceTimeout == nil || *c.PresenceTimeout == "" {
		return 3 * time.Second // default
	}
	d, err := time.ParseDuration(*c.PresenceTimeout)
	if err != nil {
		return 3 * time.Second // default on parse error
	}
	return d
}

// GetConfidenceThreshold returns the confidence_threshold value or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.6
	}
	return *c.ConfidenceThreshold
}

// GetMinValidDistance returns the min_valid_distance value or the default.
func (c *TuningConfig) GetMinValidDistance() float64 {
	if c.MinValidDistance == nil {
		return 0.1
	}
	return *c.MinValidDistance
}

// GetCO2HistorySize returns the co2_history_size value or the default.
func (c *TuningConfig) GetCO2HistorySize() int {
	if c.CO2HistorySize == nil {
		return 100
	}
	return *c.CO2HistorySize
}

// GetPresenceHistorySize returns the presence_history_size value or the default.
func (c *TuningConfig) GetPresenceHistorySize() int {
	if c.PresenceHistorySize == nil {
		return 100
	}
	return *c.PresenceHistorySize
}

// GetDistanceHistorySize returns the distance_history_size value or the default.
func (c *TuningConfig) GetDistanceHistorySize() int {
	if c.DistanceHistorySize == nil {
		return 50
	}
	return *c.DistanceHistorySize
}

// GetRawDistanceWindow returns the raw_distance_window value or the default.
func (c *TuningConfig) GetRawDistanceWindow() int {
	if c.RawDistanceWindow == nil {
		return 20
	}
	return *c.RawDistanceWindow
}

// GetMinFields returns the min_fields value or the default.
func (c *TuningConfig) GetMinFields() int {
	if c.MinFields == nil {
		return 3
	}
	return *c.MinFields
}

// GetPresenceTrueTokens returns the presence_true_tokens value or the default.
// "1" is the current firmware token; "HUMAN" is emitted by legacy variants.
func (c *TuningConfig) GetPresenceTrueTokens() []string {
	if len(c.PresenceTrueTokens) == 0 {
		return []string{"1", "HUMAN"}
	}
	return c.PresenceTrueTokens
}
