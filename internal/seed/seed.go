// Package seed fills an empty database with demo detection history so the
// dashboard has something to show before a phone is paired.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/twinhub/internal/detect"
	"github.com/HerbHall/twinhub/pkg/telemetry"
)

// Result counts what SeedDemo wrote.
type Result struct {
	Anomalies int
	Baselines int
}

// demoDevices are the paired phones the demo history belongs to.
var demoDevices = []string{"demo-pixel", "demo-iphone", "demo-tablet"}

type demoAnomaly struct {
	ago        time.Duration
	typ        telemetry.AnomalyType
	severity   telemetry.Severity
	confidence float64
	values     map[string]float64
	deviation  float64
	acked      bool
}

// demoTimeline is replayed for each device, shifted by the device index so
// the devices do not share timestamps.
var demoTimeline = []demoAnomaly{
	{23 * time.Hour, telemetry.AnomalySuddenMovement, telemetry.SeverityMedium, 0.62,
		map[string]float64{"x": 6.1, "y": 2.4, "z": 14.9}, 52, true},
	{19 * time.Hour, telemetry.AnomalyCPUSpike, telemetry.SeverityHigh, 0.81,
		map[string]float64{"cpu": 94, "memory": 61, "temperature": 41}, 88, true},
	{14 * time.Hour, telemetry.AnomalyExcessiveVibration, telemetry.SeverityHigh, 0.77,
		map[string]float64{"x": 31, "y": 18, "z": 22}, 140, false},
	{9 * time.Hour, telemetry.AnomalyUnusualRotation, telemetry.SeverityLow, 0.55,
		map[string]float64{"x": 4.2, "y": 0.3, "z": 3.9}, 35, false},
	{5 * time.Hour, telemetry.AnomalyTemperatureSpike, telemetry.SeverityMedium, 0.68,
		map[string]float64{"cpu": 40, "memory": 55, "temperature": 47}, 30, false},
	{90 * time.Minute, telemetry.AnomalyThermalThrottling, telemetry.SeverityCritical, 0.93,
		map[string]float64{"cpu": 88, "memory": 72, "temperature": 56}, 65, false},
	{20 * time.Minute, telemetry.AnomalyPatternDeviation, telemetry.SeverityMedium, 0.71,
		map[string]float64{"x": 0.4, "y": 7.7, "z": 3.1}, 61, false},
}

// SeedDemo writes a day of anomaly history and an at-rest accelerometer
// baseline for each demo device. It is idempotent: anomaly IDs are derived
// from device and position, existing ones are skipped, and baselines are
// upserted.
func SeedDemo(ctx context.Context, s *detect.DetectStore, now time.Time) (Result, error) {
	var res Result
	for di, device := range demoDevices {
		shift := time.Duration(di) * 7 * time.Minute
		for i, d := range demoTimeline {
			id := fmt.Sprintf("demo-%s-%02d", device, i)
			if _, err := s.GetAnomaly(ctx, id); err == nil {
				continue
			} else if !errors.Is(err, detect.ErrAnomalyNotFound) {
				return res, fmt.Errorf("check %s: %w", id, err)
			}

			at := now.Add(-d.ago - shift).UTC()
			a := telemetry.AnomalyEvent{
				ID:                id,
				DeviceID:          device,
				Timestamp:         at,
				Type:              d.typ,
				Severity:          d.severity,
				Confidence:        d.confidence,
				Description:       fmt.Sprintf("Demo %s on %s", d.typ, device),
				SensorValues:      d.values,
				WindowSize:        5000,
				BaselineDeviation: d.deviation,
			}
			if d.acked {
				a = a.Acknowledge(at.Add(10*time.Minute), "seeded")
			}
			if err := s.InsertAnomaly(ctx, &a); err != nil {
				return res, fmt.Errorf("seed anomaly %s: %w", id, err)
			}
			res.Anomalies++
		}

		if err := s.UpsertBaseline(ctx, device, restingBaseline(now)); err != nil {
			return res, fmt.Errorf("seed baseline %s: %w", device, err)
		}
		res.Baselines++
	}
	return res, nil
}

// restingBaseline describes a phone lying flat: gravity on Z, little noise.
func restingBaseline(now time.Time) *telemetry.SensorBaseline {
	return &telemetry.SensorBaseline{
		SensorType:        telemetry.SensorAccelerometer,
		Mean:              []float64{0, 0, 9.81},
		Std:               []float64{0.05, 0.05, 0.08},
		Min:               []float64{-0.2, -0.2, 9.5},
		Max:               []float64{0.2, 0.2, 10.1},
		Median:            []float64{0, 0, 9.81},
		Percentile25:      []float64{-0.03, -0.03, 9.76},
		Percentile75:      []float64{0.03, 0.03, 9.86},
		IQR:               []float64{0.06, 0.06, 0.1},
		SamplesCount:      1000,
		TimeWindowMinutes: 1000 / 60 / 60,
		LastUpdated:       now.UTC(),
	}
}
