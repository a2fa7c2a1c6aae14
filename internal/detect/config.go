package detect

import (
	"time"

	"github.com/HerbHall/twinhub/internal/detect/window"
	"github.com/HerbHall/twinhub/pkg/telemetry"
)

// DetectConfig holds configuration for the detect plugin. The embedded
// detection settings are read from the top of the plugin section, so
// plugins.detect.confidence_threshold maps onto ConfidenceThreshold.
type DetectConfig struct {
	telemetry.AnomalyDetectionConfig `mapstructure:",squash"`

	BaselineRefreshInterval time.Duration `mapstructure:"baseline_refresh_interval"` // 0 disables periodic refresh
	AnomalyRetention        time.Duration `mapstructure:"anomaly_retention"`
	MaintenanceInterval     time.Duration `mapstructure:"maintenance_interval"`
	RecentCapacity          int           `mapstructure:"recent_capacity"`
	HistoryCapacity         int           `mapstructure:"history_capacity"`
	DefaultDeviceID         string        `mapstructure:"default_device_id"` // used when a reading names no device
	MaxDevices              int           `mapstructure:"max_devices"`         // 0 means unlimited
	DeviceIdleTimeout       time.Duration `mapstructure:"device_idle_timeout"` // 0 disables idle eviction
	RequireIngestToken      bool          `mapstructure:"require_ingest_token"`
}

// DefaultConfig returns sensible defaults for the detect module.
func DefaultConfig() DetectConfig {
	return DetectConfig{
		AnomalyDetectionConfig:  telemetry.DefaultDetectionConfig(),
		BaselineRefreshInterval: 0,
		AnomalyRetention:        7 * 24 * time.Hour,
		MaintenanceInterval:     1 * time.Hour,
		RecentCapacity:          window.RecentCapacity,
		HistoryCapacity:         window.HistoryCapacity,
		DefaultDeviceID:         "default",
		MaxDevices:              256,
		DeviceIdleTimeout:       24 * time.Hour,
	}
}
