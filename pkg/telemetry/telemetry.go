// Package telemetry provides public SDK types for the Twin Sensor Hub
// sensor stream and anomaly detection system.
package telemetry

import (
	"math"
	"regexp"
	"time"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidDeviceID reports whether id can name a device: 1-64 characters of
// [A-Za-z0-9_-], so it is always safe as an MQTT topic level or URL segment.
func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

// SensorType identifies a 3-axis motion sensor.
type SensorType string

const (
	SensorAccelerometer SensorType = "accelerometer"
	SensorGyroscope     SensorType = "gyroscope"
	SensorMagnetometer  SensorType = "magnetometer"
)

// SensorTypes lists every supported motion sensor.
func SensorTypes() []SensorType {
	return []SensorType{SensorAccelerometer, SensorGyroscope, SensorMagnetometer}
}

// Valid reports whether s is a known sensor type.
func (s SensorType) Valid() bool {
	switch s {
	case SensorAccelerometer, SensorGyroscope, SensorMagnetometer:
		return true
	}
	return false
}

// Vector3 is a single 3-axis sample.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Slice returns the axes as [x, y, z].
func (v Vector3) Slice() []float64 {
	return []float64{v.X, v.Y, v.Z}
}

// Magnitude returns the Euclidean norm of the vector.
func (v Vector3) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Finite reports whether every axis is a finite number.
func (v Vector3) Finite() bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

// Reading is one sensor sample as delivered by the paired phone.
type Reading struct {
	DeviceID  string     `json:"device_id"`
	Sensor    SensorType `json:"sensor"`
	X         float64    `json:"x"`
	Y         float64    `json:"y"`
	Z         float64    `json:"z"`
	Timestamp int64      `json:"timestamp"` // Unix milliseconds
}

// Vector returns the reading's axes.
func (r Reading) Vector() Vector3 {
	return Vector3{X: r.X, Y: r.Y, Z: r.Z}
}

// PerformanceSample is a device performance snapshot.
type PerformanceSample struct {
	DeviceID    string  `json:"device_id"`
	CPU         float64 `json:"cpu"`         // percent
	Memory      float64 `json:"memory"`      // percent
	Temperature float64 `json:"temperature"` // Celsius
	Timestamp   int64   `json:"timestamp"`   // Unix milliseconds
}

// Finite reports whether every field is a finite number.
func (p PerformanceSample) Finite() bool {
	return finite(p.CPU) && finite(p.Memory) && finite(p.Temperature)
}

// Severity is the ordinal tier of an anomaly.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of the severity (low=0 .. critical=3),
// or -1 for an unknown value.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// AtLeast reports whether s is at or above min in the ordering
// low < medium < high < critical.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// AnomalyType classifies a detected anomaly.
type AnomalyType string

// Motion anomalies.
const (
	AnomalyUnexpectedAcceleration AnomalyType = "unexpected_acceleration"
	AnomalyUnexpectedDeceleration AnomalyType = "unexpected_deceleration"
	AnomalyUnusualRotation        AnomalyType = "unusual_rotation"
	AnomalyExcessiveVibration     AnomalyType = "excessive_vibration"
	AnomalySuddenMovement         AnomalyType = "sudden_movement"
)

// Performance anomalies.
const (
	AnomalyCPUSpike          AnomalyType = "cpu_spike"
	AnomalyMemoryLeak        AnomalyType = "memory_leak"
	AnomalyTemperatureSpike  AnomalyType = "temperature_spike"
	AnomalyThermalThrottling AnomalyType = "thermal_throttling"
)

// Pattern anomalies.
const (
	AnomalyPatternDeviation AnomalyType = "pattern_deviation"
	AnomalyPeriodic         AnomalyType = "periodic_anomaly"
	AnomalyDrift            AnomalyType = "drift_detected"
)

// AnomalyTypes returns the complete anomaly taxonomy.
func AnomalyTypes() []AnomalyType {
	return []AnomalyType{
		AnomalyUnexpectedAcceleration,
		AnomalyUnexpectedDeceleration,
		AnomalyUnusualRotation,
		AnomalyExcessiveVibration,
		AnomalySuddenMovement,
		AnomalyCPUSpike,
		AnomalyMemoryLeak,
		AnomalyTemperatureSpike,
		AnomalyThermalThrottling,
		AnomalyPatternDeviation,
		AnomalyPeriodic,
		AnomalyDrift,
	}
}

// AnomalyEvent is a single detection result.
type AnomalyEvent struct {
	ID                string             `json:"id"`
	DeviceID          string             `json:"device_id,omitempty"`
	Timestamp         time.Time          `json:"timestamp"`
	Type              AnomalyType        `json:"type"`
	Severity          Severity           `json:"severity"`
	Confidence        float64            `json:"confidence"` // 0.0-1.0
	Description       string             `json:"description"`
	SensorValues      map[string]float64 `json:"sensor_values,omitempty"`
	WindowSize        int64              `json:"window_size"`        // milliseconds
	BaselineDeviation float64            `json:"baseline_deviation"` // percent
	Acknowledged      bool               `json:"acknowledged"`
	AcknowledgedAt    *time.Time         `json:"acknowledged_at,omitempty"`
	Notes             string             `json:"notes,omitempty"`
}

// Acknowledge returns a copy of the event marked as acknowledged at the
// given time. All other fields are preserved.
func (e AnomalyEvent) Acknowledge(at time.Time, notes string) AnomalyEvent {
	e.Acknowledged = true
	e.AcknowledgedAt = &at
	e.Notes = notes
	if e.SensorValues != nil {
		values := make(map[string]float64, len(e.SensorValues))
		for k, v := range e.SensorValues {
			values[k] = v
		}
		e.SensorValues = values
	}
	return e
}

// SensorBaseline summarises normal behaviour of one sensor over a trailing
// window. Every per-axis slice has one entry per axis.
type SensorBaseline struct {
	SensorType        SensorType `json:"sensor_type"`
	Mean              []float64  `json:"mean"`
	Std               []float64  `json:"std"`
	Min               []float64  `json:"min"`
	Max               []float64  `json:"max"`
	Median            []float64  `json:"median"`
	Percentile25      []float64  `json:"percentile_25"`
	Percentile75      []float64  `json:"percentile_75"`
	IQR               []float64  `json:"iqr"`
	SamplesCount      int        `json:"samples_count"`
	TimeWindowMinutes int        `json:"time_window_minutes"` // approximated at 60 Hz
	LastUpdated       time.Time  `json:"last_updated"`
}

// Axes returns the number of axes covered by every per-axis slice, or -1
// when the slices disagree.
func (b *SensorBaseline) Axes() int {
	n := len(b.Mean)
	for _, s := range [][]float64{b.Std, b.Min, b.Max, b.Median, b.Percentile25, b.Percentile75, b.IQR} {
		if len(s) != n {
			return -1
		}
	}
	return n
}

// AnomalyPattern aggregates occurrences of one anomaly type.
type AnomalyPattern struct {
	ID           string      `json:"id"`
	Type         AnomalyType `json:"type"`
	Occurrences  int         `json:"occurrences"`
	LastSeverity Severity    `json:"last_severity"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastSeen     time.Time   `json:"last_seen"`
}

// AnomalyStatistics summarises detections since the last reset.
type AnomalyStatistics struct {
	TotalAnomalies    int                 `json:"total_anomalies"`
	ByType            map[AnomalyType]int `json:"by_type"`
	BySeverity        map[Severity]int    `json:"by_severity"`
	AverageConfidence float64             `json:"average_confidence"`
	AnomalyRate       float64             `json:"anomaly_rate"` // per hour
	MostCommonType    AnomalyType         `json:"most_common_type,omitempty"`
	LastAnomalyTime   *time.Time          `json:"last_anomaly_time,omitempty"`
	Patterns          []AnomalyPattern    `json:"patterns"`
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
