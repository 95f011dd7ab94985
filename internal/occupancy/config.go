package occupancy

import (
	"time"

	"github.com/banshee-data/parking.report/internal/config"
)

// Config holds the parameters of the state machine and the calibrator.
type Config struct {
	EvaluateTime      time.Duration `json:"evaluate_time"`      // Hysteresis window for confirming occupancy and vacancy
	OverlapThreshold  float64       `json:"overlap_threshold"`  // Fraction of ROI area a detection must cover
	AutoEvaluateTime  time.Duration `json:"auto_evaluate_time"` // Calibration window length
	MinimumAttendance float64       `json:"minimum_attendance"` // Fraction of snapshots a candidate must appear in
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyOccupancyConfig())
}

// ConfigFromTuning builds a Config from a loaded OccupancyConfig.
func ConfigFromTuning(cfg *config.OccupancyConfig) Config {
	return Config{
		EvaluateTime:      cfg.GetEvaluateTime(),
		OverlapThreshold:  cfg.GetOverlapThreshold(),
		AutoEvaluateTime:  cfg.GetAutoEvaluateTime(),
		MinimumAttendance: cfg.GetMinimumAttendance(),
	}
}

// WithTuning returns c with every field set in t applied on top. Fields
// left nil in t keep their current value.
func (c Config) WithTuning(t *config.OccupancyConfig) Config {
	if t.EvaluateTime != nil {
		c.EvaluateTime = t.GetEvaluateTime()
	}
	if t.OverlapThreshold != nil {
		c.OverlapThreshold = t.GetOverlapThreshold()
	}
	if t.AutoEvaluateTime != nil {
		c.AutoEvaluateTime = t.GetAutoEvaluateTime()
	}
	if t.MinimumAttendance != nil {
		c.MinimumAttendance = t.GetMinimumAttendance()
	}
	return c
}
