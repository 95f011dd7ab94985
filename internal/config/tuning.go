package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical occupancy defaults file.
const DefaultConfigPath = "config/occupancy.defaults.json"

// OccupancyConfig represents the root configuration for occupancy tuning.
// The schema matches the /api/config endpoint so the same JSON can be
// used for both startup configuration and inspection at runtime.
//
// Every field is optional; the Get* methods supply the defaults.
type OccupancyConfig struct {
	// State machine params
	EvaluateTime     *string  `json:"evaluate_time,omitempty"` // duration string like "5s"
	OverlapThreshold *float64 `json:"overlap_threshold,omitempty"`

	// Auto-detect params
	AutoEvaluateTime  *string  `json:"auto_evaluate_time,omitempty"` // duration string like "10s"
	MinimumAttendance *float64 `json:"minimum_attendance,omitempty"`

	// Tick driver params
	TickInterval *string `json:"tick_interval,omitempty"`

	// Upstream detection filter params
	DetectionThreshold *float64 `json:"detection_threshold,omitempty"`
	IoUThreshold       *float64 `json:"iou_threshold,omitempty"`

	// Publishing
	MQTTTopicPrefix *string `json:"mqtt_topic_prefix,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// EmptyOccupancyConfig returns an OccupancyConfig with all fields nil.
func EmptyOccupancyConfig() *OccupancyConfig {
	return &OccupancyConfig{}
}

// DefaultOccupancyConfig returns a config with every field populated from
// the built-in defaults.
func DefaultOccupancyConfig() *OccupancyConfig {
	empty := EmptyOccupancyConfig()
	return &OccupancyConfig{
		EvaluateTime:       ptrString(empty.GetEvaluateTime().String()),
		OverlapThreshold:   ptrFloat64(empty.GetOverlapThreshold()),
		AutoEvaluateTime:   ptrString(empty.GetAutoEvaluateTime().String()),
		MinimumAttendance:  ptrFloat64(empty.GetMinimumAttendance()),
		TickInterval:       ptrString(empty.GetTickInterval().String()),
		DetectionThreshold: ptrFloat64(empty.GetDetectionThreshold()),
		IoUThreshold:       ptrFloat64(empty.GetIoUThreshold()),
		MQTTTopicPrefix:    ptrString(empty.GetMQTTTopicPrefix()),
	}
}

// LoadOccupancyConfig loads an OccupancyConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to their defaults, so partial configs are safe.
func LoadOccupancyConfig(path string) (*OccupancyConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyOccupancyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *OccupancyConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/occupancy-plot/
	}
	for _, path := range candidates {
		if cfg, err := LoadOccupancyConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *OccupancyConfig) Validate() error {
	for name, v := range map[string]*string{
		"evaluate_time":      c.EvaluateTime,
		"auto_evaluate_time": c.AutoEvaluateTime,
		"tick_interval":      c.TickInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}
	if c.TickInterval != nil && *c.TickInterval != "" {
		if d, _ := time.ParseDuration(*c.TickInterval); d == 0 {
			return fmt.Errorf("tick_interval must be positive")
		}
	}

	for name, v := range map[string]*float64{
		"overlap_threshold":   c.OverlapThreshold,
		"minimum_attendance":  c.MinimumAttendance,
		"detection_threshold": c.DetectionThreshold,
		"iou_threshold":       c.IoUThreshold,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetEvaluateTime returns the evaluate_time value or the default.
func (c *OccupancyConfig) GetEvaluateTime() time.Duration {
	return parseDurationOr(c.EvaluateTime, 5*time.Second)
}

// GetOverlapThreshold returns the overlap_threshold value or the default.
func (c *OccupancyConfig) GetOverlapThreshold() float64 {
	if c.OverlapThreshold == nil {
		return 0.4
	}
	return *c.OverlapThreshold
}

// GetAutoEvaluateTime returns the auto_evaluate_time value or the default.
func (c *OccupancyConfig) GetAutoEvaluateTime() time.Duration {
	return parseDurationOr(c.AutoEvaluateTime, 10*time.Second)
}

// GetMinimumAttendance returns the minimum_attendance value or the default.
func (c *OccupancyConfig) GetMinimumAttendance() float64 {
	if c.MinimumAttendance == nil {
		return 0.6
	}
	return *c.MinimumAttendance
}

// GetTickInterval returns the tick_interval value or the default.
func (c *OccupancyConfig) GetTickInterval() time.Duration {
	return parseDurationOr(c.TickInterval, 500*time.Millisecond)
}

// GetDetectionThreshold returns the detection_threshold value or the default.
func (c *OccupancyConfig) GetDetectionThreshold() float64 {
	if c.DetectionThreshold == nil {
		return 0.5
	}
	return *c.DetectionThreshold
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *OccupancyConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.45
	}
	return *c.IoUThreshold
}

// GetMQTTTopicPrefix returns the mqtt_topic_prefix value or the default.
func (c *OccupancyConfig) GetMQTTTopicPrefix() string {
	if c.MQTTTopicPrefix == nil || *c.MQTTTopicPrefix == "" {
		return "parking"
	}
	return *c.MQTTTopicPrefix
}
