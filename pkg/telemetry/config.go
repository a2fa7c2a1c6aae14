package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// ErrIncompleteThresholds is returned when a detection config lacks a
// threshold entry for one or more anomaly types.
var ErrIncompleteThresholds = errors.New("anomaly thresholds incomplete")

// Threshold configures alerting for one anomaly type.
type Threshold struct {
	Threshold   float64 `json:"threshold" mapstructure:"threshold"`     // minimum confidence, 0.0-1.0
	WindowSize  int64   `json:"window_size" mapstructure:"window_size"` // milliseconds
	EnableAlert bool    `json:"enable_alert" mapstructure:"enable_alert"`
}

// Algorithms toggles individual scorers.
type Algorithms struct {
	IsolationForest    bool `json:"isolation_forest" mapstructure:"isolation_forest"`
	LocalOutlierFactor bool `json:"local_outlier_factor" mapstructure:"local_outlier_factor"`
	Statistical        bool `json:"statistical" mapstructure:"statistical"`
	MLModel            bool `json:"ml_model" mapstructure:"ml_model"`
}

// AnomalyDetectionConfig controls the detection orchestrator.
type AnomalyDetectionConfig struct {
	ConfidenceThreshold float64                   `json:"confidence_threshold" mapstructure:"confidence_threshold"`
	SeverityThreshold   Severity                  `json:"severity_threshold" mapstructure:"severity_threshold"`
	SlidingWindowSize   int64                     `json:"sliding_window_size" mapstructure:"sliding_window_size"` // milliseconds
	UpdateInterval      int64                     `json:"update_interval" mapstructure:"update_interval"`         // milliseconds
	Algorithms          Algorithms                `json:"algorithms" mapstructure:"algorithms"`
	AnomalyThresholds   map[AnomalyType]Threshold `json:"anomaly_thresholds" mapstructure:"anomaly_thresholds"`
}

// DefaultDetectionConfig returns the stock detection settings.
func DefaultDetectionConfig() AnomalyDetectionConfig {
	return AnomalyDetectionConfig{
		ConfidenceThreshold: 0.7,
		SeverityThreshold:   SeverityMedium,
		SlidingWindowSize:   5000,
		UpdateInterval:      1000,
		Algorithms: Algorithms{
			IsolationForest:    true,
			LocalOutlierFactor: true,
			Statistical:        true,
			MLModel:            false,
		},
		AnomalyThresholds: map[AnomalyType]Threshold{
			AnomalyUnexpectedAcceleration: {Threshold: 0.7, WindowSize: 2000, EnableAlert: true},
			AnomalyUnexpectedDeceleration: {Threshold: 0.7, WindowSize: 2000, EnableAlert: true},
			AnomalyUnusualRotation:        {Threshold: 0.75, WindowSize: 3000, EnableAlert: true},
			AnomalyExcessiveVibration:     {Threshold: 0.8, WindowSize: 1000, EnableAlert: true},
			AnomalySuddenMovement:         {Threshold: 0.8, WindowSize: 2000, EnableAlert: true},
			AnomalyCPUSpike:               {Threshold: 0.7, WindowSize: 5000, EnableAlert: true},
			AnomalyMemoryLeak:             {Threshold: 0.75, WindowSize: 10000, EnableAlert: true},
			AnomalyTemperatureSpike:       {Threshold: 0.7, WindowSize: 5000, EnableAlert: true},
			AnomalyThermalThrottling:      {Threshold: 0.8, WindowSize: 5000, EnableAlert: true},
			AnomalyPatternDeviation:       {Threshold: 0.65, WindowSize: 5000, EnableAlert: true},
			AnomalyPeriodic:               {Threshold: 0.7, WindowSize: 10000, EnableAlert: false},
			AnomalyDrift:                  {Threshold: 0.65, WindowSize: 15000, EnableAlert: true},
		},
	}
}

// Interval returns the re-evaluation interval as a duration.
func (c AnomalyDetectionConfig) Interval() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Millisecond
}

// Clone returns a deep copy of the config.
func (c AnomalyDetectionConfig) Clone() AnomalyDetectionConfig {
	thresholds := make(map[AnomalyType]Threshold, len(c.AnomalyThresholds))
	for k, v := range c.AnomalyThresholds {
		thresholds[k] = v
	}
	c.AnomalyThresholds = thresholds
	return c
}

// Validate checks ranges and that every anomaly type has a threshold entry.
func (c *AnomalyDetectionConfig) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v outside [0, 1]", c.ConfidenceThreshold)
	}
	if c.SeverityThreshold.Rank() < 0 {
		return fmt.Errorf("unknown severity_threshold %q", c.SeverityThreshold)
	}
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("update_interval must be positive, got %d", c.UpdateInterval)
	}
	if c.SlidingWindowSize <= 0 {
		return fmt.Errorf("sliding_window_size must be positive, got %d", c.SlidingWindowSize)
	}

	var missing []AnomalyType
	for _, t := range AnomalyTypes() {
		th, ok := c.AnomalyThresholds[t]
		if !ok {
			missing = append(missing, t)
			continue
		}
		if th.Threshold < 0 || th.Threshold > 1 {
			return fmt.Errorf("threshold for %s is %v, outside [0, 1]", t, th.Threshold)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", ErrIncompleteThresholds, missing)
	}
	return nil
}
