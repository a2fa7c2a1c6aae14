package detect

import "github.com/HerbHall/twinhub/pkg/telemetry"

// Event topics consumed by the detect module. Transports (WebSocket, MQTT,
// HTTP) publish ingested samples on these topics.
const (
	TopicSensorReading     = "ingest.sensor.reading"
	TopicPerformanceSample = "ingest.performance.sample"
	TopicConfigChanged     = "config.detect.changed"
)

// Event topics published by the detect module.
const (
	TopicAnomalyDetected     = "detect.anomaly.detected"
	TopicAnomalyAcknowledged = "detect.anomaly.acknowledged"
	TopicAnomaliesCleared    = "detect.anomalies.cleared"
	TopicBaselineUpdated     = "detect.baseline.updated"
)

// DeviceBaseline pairs a baseline with the device it was learned from.
// It is the payload of TopicBaselineUpdated.
type DeviceBaseline struct {
	DeviceID string                   `json:"device_id"`
	Baseline telemetry.SensorBaseline `json:"baseline"`
}
