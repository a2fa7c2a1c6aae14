// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/twinhub/pkg/telemetry"
)

// NewAnomaly returns an AnomalyEvent with sensible defaults, suitable for test
// fixtures. Override individual fields with options.
func NewAnomaly(opts ...func(*telemetry.AnomalyEvent)) telemetry.AnomalyEvent {
	a := telemetry.AnomalyEvent{
		ID:                uuid.New().String(),
		DeviceID:          "phone-1",
		Timestamp:         time.Now().UTC(),
		Type:              telemetry.AnomalyExcessiveVibration,
		Severity:          telemetry.SeverityHigh,
		Confidence:        0.8,
		Description:       "Excessive vibration detected: 40.00 m/s²",
		SensorValues:      map[string]float64{"x": 40, "y": 0, "z": 0},
		WindowSize:        1000,
		BaselineDeviation: 80,
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// WithID sets the anomaly ID.
func WithID(id string) func(*telemetry.AnomalyEvent) {
	return func(a *telemetry.AnomalyEvent) { a.ID = id }
}

// WithDevice sets the owning device.
func WithDevice(deviceID string) func(*telemetry.AnomalyEvent) {
	return func(a *telemetry.AnomalyEvent) { a.DeviceID = deviceID }
}

// WithTimestamp sets when the anomaly was detected.
func WithTimestamp(t time.Time) func(*telemetry.AnomalyEvent) {
	return func(a *telemetry.AnomalyEvent) { a.Timestamp = t }
}

// WithType sets the anomaly type.
func WithType(typ telemetry.AnomalyType) func(*telemetry.AnomalyEvent) {
	return func(a *telemetry.AnomalyEvent) { a.Type = typ }
}

// WithSeverity sets the severity tier.
func WithSeverity(s telemetry.Severity) func(*telemetry.AnomalyEvent) {
	return func(a *telemetry.AnomalyEvent) { a.Severity = s }
}

// WithConfidence sets the confidence score.
func WithConfidence(c float64) func(*telemetry.AnomalyEvent) {
	return func(a *telemetry.AnomalyEvent) { a.Confidence = c }
}

// WithDescription sets the human-readable description.
func WithDescription(d string) func(*telemetry.AnomalyEvent) {
	return func(a *telemetry.AnomalyEvent) { a.Description = d }
}

// NewReading returns an accelerometer reading at rest (gravity on Z) for the
// given device and Unix-millisecond timestamp.
func NewReading(deviceID string, ts int64) telemetry.Reading {
	return telemetry.Reading{
		DeviceID:  deviceID,
		Sensor:    telemetry.SensorAccelerometer,
		Z:         9.81,
		Timestamp: ts,
	}
}
