package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/HerbHall/twinhub/pkg/telemetry"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// DiscoveryConfig holds a single HA MQTT discovery payload.
type DiscoveryConfig struct {
	Topic   string // Full MQTT topic (homeassistant/...)
	Payload []byte // JSON-encoded config
}

// HADevice is the "device" block in HA discovery payloads.
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// BinarySensorConfig is the HA discovery payload for binary_sensor.
type BinarySensorConfig struct {
	Name        string   `json:"name"`
	ObjectID    string   `json:"object_id"`
	UniqueID    string   `json:"unique_id"`
	StateTopic  string   `json:"state_topic"`
	DeviceClass string   `json:"device_class,omitempty"`
	PayloadOn   string   `json:"payload_on"`
	PayloadOff  string   `json:"payload_off"`
	Device      HADevice `json:"device"`
	Icon        string   `json:"icon,omitempty"`
}

// SensorConfig is the HA discovery payload for sensor.
type SensorConfig struct {
	Name       string   `json:"name"`
	ObjectID   string   `json:"object_id"`
	UniqueID   string   `json:"unique_id"`
	StateTopic string   `json:"state_topic"`
	Attributes string   `json:"json_attributes_topic,omitempty"`
	Icon       string   `json:"icon,omitempty"`
	Device     HADevice `json:"device"`
}

// SafeObjectID sanitizes a string for use as an HA object_id.
func SafeObjectID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// stateTopics are the per-device topics the HA entities read from.
type stateTopics struct {
	anomaly  string // ON while an unacknowledged anomaly is open
	kind     string // type of the most recent anomaly
	severity string // severity of the most recent anomaly
	details  string // JSON attributes of the most recent anomaly
}

func deviceStateTopics(topicPrefix, deviceID string) stateTopics {
	base := topicPrefix + "/" + deviceID + "/state"
	return stateTopics{
		anomaly:  base + "/anomaly",
		kind:     base + "/type",
		severity: base + "/severity",
		details:  base + "/details",
	}
}

// BuildDeviceDiscoveryConfigs creates HA discovery payloads for a paired
// phone: an anomaly problem sensor plus last type and severity sensors.
func BuildDeviceDiscoveryConfigs(deviceID, topicPrefix, haPrefix string) []DiscoveryConfig {
	if deviceID == "" {
		return nil
	}
	safeID := SafeObjectID(deviceID)
	objPrefix := "twinhub_" + safeID
	topics := deviceStateTopics(topicPrefix, deviceID)
	device := HADevice{
		Identifiers:  []string{"twinhub_" + deviceID},
		Name:         "Sensor twin " + deviceID,
		Model:        "phone sensor twin",
		Manufacturer: "twinhub",
		ViaDevice:    "twinhub",
	}

	entities := []struct {
		component string
		object    string
		cfg       any
	}{
		{"binary_sensor", "anomaly", BinarySensorConfig{
			Name:        device.Name + " Anomaly",
			ObjectID:    objPrefix + "_anomaly",
			UniqueID:    objPrefix + "_anomaly",
			StateTopic:  topics.anomaly,
			DeviceClass: "problem",
			PayloadOn:   "ON",
			PayloadOff:  "OFF",
			Device:      device,
		}},
		{"sensor", "anomaly_type", SensorConfig{
			Name:       device.Name + " Last Anomaly",
			ObjectID:   objPrefix + "_anomaly_type",
			UniqueID:   objPrefix + "_anomaly_type",
			StateTopic: topics.kind,
			Attributes: topics.details,
			Icon:       "mdi:alert-outline",
			Device:     device,
		}},
		{"sensor", "anomaly_severity", SensorConfig{
			Name:       device.Name + " Anomaly Severity",
			ObjectID:   objPrefix + "_anomaly_severity",
			UniqueID:   objPrefix + "_anomaly_severity",
			StateTopic: topics.severity,
			Icon:       "mdi:gauge",
			Device:     device,
		}},
	}

	configs := make([]DiscoveryConfig, 0, len(entities))
	for _, e := range entities {
		payload, err := json.Marshal(e.cfg)
		if err != nil {
			continue
		}
		configs = append(configs, DiscoveryConfig{
			Topic:   fmt.Sprintf("%s/%s/%s/%s/config", haPrefix, e.component, objPrefix, e.object),
			Payload: payload,
		})
	}
	return configs
}

// AnomalyTypeIcon maps an anomaly type to a Material Design Icon string
// for use in Home Assistant.
func AnomalyTypeIcon(t telemetry.AnomalyType) string {
	switch t {
	case telemetry.AnomalyUnexpectedAcceleration:
		return "mdi:speedometer"
	case telemetry.AnomalyUnexpectedDeceleration:
		return "mdi:speedometer-slow"
	case telemetry.AnomalyUnusualRotation:
		return "mdi:rotate-3d-variant"
	case telemetry.AnomalyExcessiveVibration:
		return "mdi:vibrate"
	case telemetry.AnomalySuddenMovement:
		return "mdi:run-fast"
	case telemetry.AnomalyCPUSpike:
		return "mdi:cpu-64-bit"
	case telemetry.AnomalyMemoryLeak:
		return "mdi:memory"
	case telemetry.AnomalyTemperatureSpike:
		return "mdi:thermometer-alert"
	case telemetry.AnomalyThermalThrottling:
		return "mdi:fire"
	case telemetry.AnomalyPatternDeviation:
		return "mdi:chart-bell-curve"
	case telemetry.AnomalyPeriodic:
		return "mdi:sine-wave"
	case telemetry.AnomalyDrift:
		return "mdi:trending-up"
	}
	return "mdi:alert-outline"
}
