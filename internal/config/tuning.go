package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/lift.report/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds tracker and calibration parameters. Every field is
// optional; the Get* accessors supply defaults for anything omitted, so a
// partial file is always safe to load.
type TuningConfig struct {
	// Mean-shift termination
	MaxIterations *int     `json:"max_iterations,omitempty"`
	EpsilonPx     *float64 `json:"epsilon_px,omitempty"`

	// Appearance mask lower bounds (0-255)
	MinSaturation *int `json:"min_saturation,omitempty"`
	MinValue      *int `json:"min_value,omitempty"`

	// "hold" keeps the window when it holds no probability mass, "fail"
	// aborts the session.
	DegeneratePolicy *string `json:"degenerate_policy,omitempty"`

	// Calibration
	ReferenceLengthM *float64 `json:"reference_length_m,omitempty"`
	FPSOverride      *float64 `json:"fps_override,omitempty"` // 0 = use the video's own rate

	// Reporting
	VelocityUnits *string `json:"velocity_units,omitempty"`

	// Number of videos processed concurrently in batch mode.
	BatchWorkers *int `json:"batch_workers,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.EpsilonPx != nil && *c.EpsilonPx < 0 {
		return fmt.Errorf("epsilon_px must be non-negative, got %f", *c.EpsilonPx)
	}
	if c.MinSaturation != nil && (*c.MinSaturation < 0 || *c.MinSaturation > 255) {
		return fmt.Errorf("min_saturation must be between 0 and 255, got %d", *c.MinSaturation)
	}
	if c.MinValue != nil && (*c.MinValue < 0 || *c.MinValue > 255) {
		return fmt.Errorf("min_value must be between 0 and 255, got %d", *c.MinValue)
	}
	if c.DegeneratePolicy != nil {
		switch *c.DegeneratePolicy {
		case "", "hold", "fail":
		default:
			return fmt.Errorf("degenerate_policy must be hold or fail, got %q", *c.DegeneratePolicy)
		}
	}
	if c.ReferenceLengthM != nil && *c.ReferenceLengthM <= 0 {
		return fmt.Errorf("reference_length_m must be positive, got %f", *c.ReferenceLengthM)
	}
	if c.FPSOverride != nil && *c.FPSOverride < 0 {
		return fmt.Errorf("fps_override must be non-negative, got %f", *c.FPSOverride)
	}
	if c.VelocityUnits != nil && !units.IsValid(*c.VelocityUnits) {
		return fmt.Errorf("velocity_units must be one of %s, got %q", units.GetValidUnitsString(), *c.VelocityUnits)
	}
	if c.BatchWorkers != nil && *c.BatchWorkers < 1 {
		return fmt.Errorf("batch_workers must be at least 1, got %d", *c.BatchWorkers)
	}
	return nil
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 10
	}
	return *c.MaxIterations
}

// GetEpsilonPx returns the epsilon_px value or the default.
func (c *TuningConfig) GetEpsilonPx() float64 {
	if c.EpsilonPx == nil {
		return 1
	}
	return *c.EpsilonPx
}

// GetMinSaturation returns the min_saturation value or the default.
func (c *TuningConfig) GetMinSaturation() int {
	if c.MinSaturation == nil {
		return 60
	}
	return *c.MinSaturation
}

// GetMinValue returns the min_value value or the default.
func (c *TuningConfig) GetMinValue() int {
	if c.MinValue == nil {
		return 32
	}
	return *c.MinValue
}

// GetDegeneratePolicy returns the degenerate_policy value or the default.
func (c *TuningConfig) GetDegeneratePolicy() string {
	if c.DegeneratePolicy == nil || *c.DegeneratePolicy == "" {
		return "hold"
	}
	return *c.DegeneratePolicy
}

// GetReferenceLengthM returns the reference_length_m value or the default
// (0.45m, the diameter of a standard competition plate).
func (c *TuningConfig) GetReferenceLengthM() float64 {
	if c.ReferenceLengthM == nil {
		return 0.45
	}
	return *c.ReferenceLengthM
}

// GetFPSOverride returns the fps_override value or 0 (use the source rate).
func (c *TuningConfig) GetFPSOverride() float64 {
	if c.FPSOverride == nil {
		return 0
	}
	return *c.FPSOverride
}

// GetVelocityUnits returns the velocity_units value or the default.
func (c *TuningConfig) GetVelocityUnits() string {
	if c.VelocityUnits == nil {
		return units.MPS
	}
	return *c.VelocityUnits
}

// GetBatchWorkers returns the batch_workers value or the default.
func (c *TuningConfig) GetBatchWorkers() int {
	if c.BatchWorkers == nil {
		return 2
	}
	return *c.BatchWorkers
}
