package detect

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/twinhub/internal/detect/anomaly"
	"github.com/HerbHall/twinhub/pkg/telemetry"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T, mutate func(*DetectConfig)) *Detector {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDetector(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDetector() error = %v", err)
	}
	d.now = func() time.Time { return testNow }
	seq := 0
	d.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return d
}

func accel(x, y, z float64) telemetry.Reading {
	return telemetry.Reading{Sensor: telemetry.SensorAccelerometer, X: x, Y: y, Z: z}
}

func gyro(x, y, z float64) telemetry.Reading {
	return telemetry.Reading{Sensor: telemetry.SensorGyroscope, X: x, Y: y, Z: z}
}

func mustIngest(t *testing.T, d *Detector, readings ...telemetry.Reading) {
	t.Helper()
	for _, r := range readings {
		if _, err := d.Ingest(r); err != nil {
			t.Fatalf("Ingest(%+v) error = %v", r, err)
		}
	}
}

func eventTypes(events []telemetry.AnomalyEvent) []telemetry.AnomalyType {
	out := make([]telemetry.AnomalyType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestNewDetector_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DetectConfig)
	}{
		{"missing threshold", func(c *DetectConfig) { delete(c.AnomalyThresholds, telemetry.AnomalyDrift) }},
		{"unknown severity", func(c *DetectConfig) { c.SeverityThreshold = "extreme" }},
		{"history too small", func(c *DetectConfig) { c.HistoryCapacity = 100 }},
		{"recent too small", func(c *DetectConfig) { c.RecentCapacity = 3 }},
		{"bad default device", func(c *DetectConfig) { c.DefaultDeviceID = "a/b" }},
		{"negative max devices", func(c *DetectConfig) { c.MaxDevices = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := NewDetector(cfg, nil); err == nil {
				t.Error("NewDetector() error = nil, want error")
			}
		})
	}
}

func TestIngest_RejectsInvalidReadings(t *testing.T) {
	d := newTestDetector(t, nil)

	tests := []struct {
		name string
		r    telemetry.Reading
	}{
		{"NaN axis", accel(math.NaN(), 0, 9.8)},
		{"Inf axis", gyro(0, math.Inf(-1), 0)},
		{"unknown sensor", telemetry.Reading{Sensor: "barometer", X: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Ingest(tt.r)
			if !errors.Is(err, ErrInvalidReading) {
				t.Errorf("Ingest() error = %v, want ErrInvalidReading", err)
			}
		})
	}

	if err := d.IngestPerformance(telemetry.PerformanceSample{CPU: math.NaN()}); !errors.Is(err, ErrInvalidReading) {
		t.Errorf("IngestPerformance(NaN) error = %v, want ErrInvalidReading", err)
	}
	if got := d.RunPass(); len(got) != 0 {
		t.Errorf("RunPass() after rejected input = %v, want no events", got)
	}
	if got := d.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %v, want none", got)
	}
}

func TestIngest_RejectsInvalidDeviceIDs(t *testing.T) {
	d := newTestDetector(t, nil)

	ids := []string{"a/+/#", "../../x", "with space", strings.Repeat("x", 5000)}
	for _, id := range ids {
		name := id
		if len(name) > 16 {
			name = "long"
		}
		t.Run(name, func(t *testing.T) {
			r := accel(0, 0, 9.8)
			r.DeviceID = id
			if _, err := d.Ingest(r); !errors.Is(err, ErrInvalidReading) {
				t.Errorf("Ingest() error = %v, want ErrInvalidReading", err)
			}
			p := telemetry.PerformanceSample{DeviceID: id, CPU: 10}
			if err := d.IngestPerformance(p); !errors.Is(err, ErrInvalidReading) {
				t.Errorf("IngestPerformance() error = %v, want ErrInvalidReading", err)
			}
			if err := d.PutBaseline(id, uniformTestBaseline(telemetry.SensorGyroscope)); !errors.Is(err, ErrInvalidReading) {
				t.Errorf("PutBaseline() error = %v, want ErrInvalidReading", err)
			}
		})
	}
	if got := d.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %v, want none", got)
	}
}

func TestIngest_DeviceLimit(t *testing.T) {
	d := newTestDetector(t, func(c *DetectConfig) {
		c.MaxDevices = 2
		c.DeviceIdleTimeout = 0
	})

	for _, id := range []string{"phone-a", "phone-b"} {
		r := accel(0, 0, 9.8)
		r.DeviceID = id
		mustIngest(t, d, r)
	}

	r := accel(0, 0, 9.8)
	r.DeviceID = "phone-c"
	if _, err := d.Ingest(r); !errors.Is(err, ErrDeviceLimit) {
		t.Fatalf("Ingest(new device) error = %v, want ErrDeviceLimit", err)
	}
	if err := d.IngestPerformance(telemetry.PerformanceSample{DeviceID: "phone-c"}); !errors.Is(err, ErrDeviceLimit) {
		t.Errorf("IngestPerformance(new device) error = %v, want ErrDeviceLimit", err)
	}

	r.DeviceID = "phone-a"
	mustIngest(t, d, r)
	if got := d.Devices(); len(got) != 2 {
		t.Errorf("Devices() = %v, want two", got)
	}
}

func TestIngest_DeviceLimitEvictsIdle(t *testing.T) {
	d := newTestDetector(t, func(c *DetectConfig) {
		c.MaxDevices = 2
		c.DeviceIdleTimeout = time.Hour
	})

	ingestAt := func(id string, at time.Time) error {
		d.now = func() time.Time { return at }
		r := accel(0, 0, 9.8)
		r.DeviceID = id
		_, err := d.Ingest(r)
		return err
	}

	if err := ingestAt("phone-a", testNow); err != nil {
		t.Fatal(err)
	}
	if err := ingestAt("phone-b", testNow.Add(90*time.Minute)); err != nil {
		t.Fatal(err)
	}
	// phone-a has been silent for 2h and makes room.
	if err := ingestAt("phone-c", testNow.Add(2*time.Hour)); err != nil {
		t.Fatalf("Ingest(phone-c) error = %v", err)
	}
	got := d.Devices()
	if len(got) != 2 || got[0] != "phone-b" || got[1] != "phone-c" {
		t.Errorf("Devices() = %v, want [phone-b phone-c]", got)
	}

	// Nothing is idle now.
	if err := ingestAt("phone-d", testNow.Add(2*time.Hour)); !errors.Is(err, ErrDeviceLimit) {
		t.Errorf("Ingest(phone-d) error = %v, want ErrDeviceLimit", err)
	}
}

func TestEvictIdle(t *testing.T) {
	d := newTestDetector(t, nil)

	for i, id := range []string{"phone-a", "phone-b"} {
		at := testNow.Add(time.Duration(i) * 30 * time.Minute)
		d.now = func() time.Time { return at }
		r := accel(0, 0, 9.8)
		r.DeviceID = id
		mustIngest(t, d, r)
	}

	evicted := d.EvictIdle(testNow.Add(10 * time.Minute))
	if len(evicted) != 1 || evicted[0] != "phone-a" {
		t.Errorf("EvictIdle() = %v, want [phone-a]", evicted)
	}
	if got := d.Devices(); len(got) != 1 || got[0] != "phone-b" {
		t.Errorf("Devices() = %v, want [phone-b]", got)
	}
	if got := d.EvictIdle(testNow); len(got) != 0 {
		t.Errorf("second EvictIdle() = %v, want none", got)
	}
}

func TestIngest_BuildsBaselineAfterMinSamples(t *testing.T) {
	d := newTestDetector(t, nil)

	for i := 0; i < 100; i++ {
		update, err := d.Ingest(accel(0, 0, 9.8))
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if update != nil {
			t.Fatalf("baseline built after %d samples, want more than 100", i+1)
		}
	}

	update, err := d.Ingest(accel(0, 0, 9.8))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if update == nil {
		t.Fatal("no baseline after 101 samples")
	}
	if update.DeviceID != "default" {
		t.Errorf("DeviceID = %q, want default", update.DeviceID)
	}
	if update.Baseline.SamplesCount != 101 {
		t.Errorf("SamplesCount = %d, want 101", update.Baseline.SamplesCount)
	}
	if !update.Baseline.LastUpdated.Equal(testNow) {
		t.Errorf("LastUpdated = %v, want %v", update.Baseline.LastUpdated, testNow)
	}

	// Existing baselines are not rebuilt on ingest.
	again, err := d.Ingest(accel(0, 0, 9.8))
	if err != nil || again != nil {
		t.Errorf("second Ingest() = %v, %v, want nil, nil", again, err)
	}

	if _, ok := d.Baseline("", telemetry.SensorAccelerometer); !ok {
		t.Error("Baseline(accelerometer) not stored")
	}
	if _, ok := d.Baseline("", telemetry.SensorGyroscope); ok {
		t.Error("Baseline(gyroscope) exists without gyroscope history")
	}
}

func TestRefreshBaselines_UsesBoundedHistory(t *testing.T) {
	d := newTestDetector(t, nil)
	for i := 0; i < 400; i++ {
		mustIngest(t, d, accel(float64(i), 0, 0))
	}
	mustIngest(t, d, gyro(1, 1, 1))

	updated := d.RefreshBaselines()
	if len(updated) != 1 {
		t.Fatalf("RefreshBaselines() returned %d baselines, want 1", len(updated))
	}
	b := updated[0].Baseline
	if b.SamplesCount != 300 {
		t.Errorf("SamplesCount = %d, want 300", b.SamplesCount)
	}
	// History holds the newest 300 samples: x = 100..399.
	if b.Min[0] != 100 || b.Max[0] != 399 {
		t.Errorf("x range = [%v, %v], want [100, 399]", b.Min[0], b.Max[0])
	}
}

func TestRunPass_MotionRules(t *testing.T) {
	d := newTestDetector(t, nil)
	mustIngest(t, d, accel(40, 0, 0), gyro(150, 0, 0))

	events := d.RunPass()
	want := []telemetry.AnomalyType{
		telemetry.AnomalyExcessiveVibration,
		telemetry.AnomalyUnusualRotation,
		telemetry.AnomalySuddenMovement,
	}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("RunPass() types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d].Type = %s, want %s", i, got[i], want[i])
		}
	}

	vib := events[0]
	if vib.ID != "id-1" {
		t.Errorf("ID = %q, want id-1", vib.ID)
	}
	if vib.Severity != telemetry.SeverityHigh {
		t.Errorf("Severity = %s, want high", vib.Severity)
	}
	if vib.Description != "excessive vibration: Accel X=40.00 Y=0.00 Z=0.00" {
		t.Errorf("Description = %q", vib.Description)
	}
	if vib.WindowSize != 1000 {
		t.Errorf("WindowSize = %d, want 1000", vib.WindowSize)
	}
	if math.Abs(vib.BaselineDeviation-80) > 1e-9 {
		t.Errorf("BaselineDeviation = %v, want 80", vib.BaselineDeviation)
	}
	if vib.SensorValues["accelX"] != 40 || vib.SensorValues["gyroX"] != 150 {
		t.Errorf("SensorValues = %v", vib.SensorValues)
	}
	if vib.Acknowledged || vib.AcknowledgedAt != nil {
		t.Error("new event is acknowledged")
	}
	if !vib.Timestamp.Equal(testNow) {
		t.Errorf("Timestamp = %v, want %v", vib.Timestamp, testNow)
	}
	if events[2].Severity != telemetry.SeverityCritical {
		t.Errorf("sudden_movement severity = %s, want critical", events[2].Severity)
	}
}

func TestRunPass_MotionNeedsBothSensors(t *testing.T) {
	d := newTestDetector(t, nil)
	mustIngest(t, d, accel(40, 0, 0))
	if got := d.RunPass(); len(got) != 0 {
		t.Errorf("RunPass() without gyroscope = %v, want none", eventTypes(got))
	}
}

func TestRunPass_Filtering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*telemetry.AnomalyDetectionConfig)
		want   []telemetry.AnomalyType
	}{
		{
			name:   "severity threshold critical",
			mutate: func(c *telemetry.AnomalyDetectionConfig) { c.SeverityThreshold = telemetry.SeverityCritical },
			want:   []telemetry.AnomalyType{telemetry.AnomalySuddenMovement},
		},
		{
			name: "alert disabled",
			mutate: func(c *telemetry.AnomalyDetectionConfig) {
				th := c.AnomalyThresholds[telemetry.AnomalyUnusualRotation]
				th.EnableAlert = false
				c.AnomalyThresholds[telemetry.AnomalyUnusualRotation] = th
			},
			want: []telemetry.AnomalyType{telemetry.AnomalyExcessiveVibration, telemetry.AnomalySuddenMovement},
		},
		{
			name: "score below type threshold",
			mutate: func(c *telemetry.AnomalyDetectionConfig) {
				th := c.AnomalyThresholds[telemetry.AnomalyExcessiveVibration]
				th.Threshold = 0.81
				c.AnomalyThresholds[telemetry.AnomalyExcessiveVibration] = th
			},
			want: []telemetry.AnomalyType{telemetry.AnomalyUnusualRotation, telemetry.AnomalySuddenMovement},
		},
		{
			name: "missing threshold entry",
			mutate: func(c *telemetry.AnomalyDetectionConfig) {
				delete(c.AnomalyThresholds, telemetry.AnomalySuddenMovement)
			},
			want: []telemetry.AnomalyType{telemetry.AnomalyExcessiveVibration, telemetry.AnomalyUnusualRotation},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t, nil)
			// Mutate in place so incomplete maps reach the pass.
			d.cfg = d.cfg.Clone()
			tt.mutate(&d.cfg)
			mustIngest(t, d, accel(40, 0, 0), gyro(150, 0, 0))

			got := eventTypes(d.RunPass())
			if len(got) != len(tt.want) {
				t.Fatalf("RunPass() types = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("event[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRunPass_Performance(t *testing.T) {
	d := newTestDetector(t, nil)
	if err := d.IngestPerformance(telemetry.PerformanceSample{CPU: 10, Memory: 20, Temperature: 60}); err != nil {
		t.Fatalf("IngestPerformance() error = %v", err)
	}

	events := d.RunPass()
	// 60/80 = 0.75 passes temperature_spike (0.7) but not thermal_throttling (0.8).
	if len(events) != 1 {
		t.Fatalf("RunPass() types = %v, want [temperature_spike]", eventTypes(events))
	}
	ev := events[0]
	if ev.Type != telemetry.AnomalyTemperatureSpike {
		t.Errorf("Type = %s, want temperature_spike", ev.Type)
	}
	if ev.Description != "temperature spike: CPU=10.0% Memory=20.0% Temp=60.0°C" {
		t.Errorf("Description = %q", ev.Description)
	}
	if ev.SensorValues["temperature"] != 60 || ev.SensorValues["cpu"] != 10 {
		t.Errorf("SensorValues = %v", ev.SensorValues)
	}
	if ev.WindowSize != 5000 {
		t.Errorf("WindowSize = %d, want 5000", ev.WindowSize)
	}
}

func TestRunPass_Statistical(t *testing.T) {
	d := newTestDetector(t, nil)
	for i := 0; i <= 100; i++ {
		off := 0.1 * float64(i%3-1)
		mustIngest(t, d, accel(off, off, 9.8+off))
	}
	if _, ok := d.Baseline("", telemetry.SensorAccelerometer); !ok {
		t.Fatal("baseline not built")
	}

	mustIngest(t, d, accel(0, 0, 15))
	events := d.RunPass()
	if len(events) != 1 {
		t.Fatalf("RunPass() types = %v, want [pattern_deviation]", eventTypes(events))
	}
	ev := events[0]
	if ev.Type != telemetry.AnomalyPatternDeviation {
		t.Errorf("Type = %s, want pattern_deviation", ev.Type)
	}
	if ev.Confidence < 0.65 || ev.Confidence > 0.7 {
		t.Errorf("Confidence = %v, want about 2/3", ev.Confidence)
	}
	if ev.Severity != telemetry.SeverityMedium {
		t.Errorf("Severity = %s, want medium", ev.Severity)
	}
	if ev.Description != "pattern deviation: Statistical deviation detected" {
		t.Errorf("Description = %q", ev.Description)
	}
	if ev.SensorValues["z"] != 15 {
		t.Errorf("SensorValues = %v", ev.SensorValues)
	}

	// The statistical scorer is switched off by its algorithm flag.
	cfg := d.Config()
	cfg.Algorithms.Statistical = false
	if err := d.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if got := d.RunPass(); len(got) != 0 {
		t.Errorf("RunPass() with statistical disabled = %v, want none", eventTypes(got))
	}
}

func TestRunPass_LOFDrift(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		want    int
	}{
		{"enabled", true, 1},
		{"disabled", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(t, func(c *DetectConfig) {
				c.Algorithms.LocalOutlierFactor = tt.enabled
			})
			for i := 0; i < 5; i++ {
				mustIngest(t, d, accel(0.001, 0, 0))
			}
			mustIngest(t, d, accel(10, 0, 0))

			events := d.RunPass()
			if len(events) != tt.want {
				t.Fatalf("RunPass() types = %v, want %d events", eventTypes(events), tt.want)
			}
			if tt.want == 1 && events[0].Type != telemetry.AnomalyDrift {
				t.Errorf("Type = %s, want drift_detected", events[0].Type)
			}
		})
	}
}

func TestRunPass_IsolationScoresNearDuplicates(t *testing.T) {
	d := newTestDetector(t, func(c *DetectConfig) {
		c.Algorithms.LocalOutlierFactor = false
	})
	mustIngest(t, d,
		accel(0, 0, 0), accel(10, 0, 0), accel(0, 10, 0), accel(0, 0, 10), accel(10, 10, 10),
		accel(0, 0, 0.01),
	)

	events := d.RunPass()
	if len(events) != 1 || events[0].Type != telemetry.AnomalyUnexpectedAcceleration {
		t.Fatalf("RunPass() types = %v, want [unexpected_acceleration]", eventTypes(events))
	}
	if events[0].Severity != telemetry.SeverityCritical {
		t.Errorf("Severity = %s, want critical", events[0].Severity)
	}
}

func TestRunPass_DensityNeedsFiveNeighbours(t *testing.T) {
	d := newTestDetector(t, nil)
	// Four neighbours plus the scored sample.
	mustIngest(t, d, accel(0.001, 0, 0), accel(0.001, 0, 0), accel(0.001, 0, 0), accel(0.001, 0, 0), accel(10, 0, 0))
	if got := d.RunPass(); len(got) != 0 {
		t.Errorf("RunPass() = %v, want none", eventTypes(got))
	}
}

func TestRunPass_DevicesInOrder(t *testing.T) {
	d := newTestDetector(t, nil)
	for _, id := range []string{"phone-b", "phone-a"} {
		if err := d.IngestPerformance(telemetry.PerformanceSample{DeviceID: id, CPU: 95}); err != nil {
			t.Fatalf("IngestPerformance() error = %v", err)
		}
	}

	events := d.RunPass()
	if len(events) != 2 {
		t.Fatalf("RunPass() returned %d events, want 2", len(events))
	}
	if events[0].DeviceID != "phone-a" || events[1].DeviceID != "phone-b" {
		t.Errorf("device order = %s, %s, want phone-a, phone-b", events[0].DeviceID, events[1].DeviceID)
	}
	if events[0].ID == events[1].ID {
		t.Error("events share an ID")
	}
}

func TestSetConfig_RejectsIncomplete(t *testing.T) {
	d := newTestDetector(t, nil)

	cfg := d.Config()
	delete(cfg.AnomalyThresholds, telemetry.AnomalyCPUSpike)
	err := d.SetConfig(cfg)
	if !errors.Is(err, telemetry.ErrIncompleteThresholds) {
		t.Fatalf("SetConfig() error = %v, want ErrIncompleteThresholds", err)
	}
	if _, ok := d.Config().AnomalyThresholds[telemetry.AnomalyCPUSpike]; !ok {
		t.Error("rejected update changed the active config")
	}
}

func TestSetConfig_TakesEffectNextPass(t *testing.T) {
	d := newTestDetector(t, nil)
	if err := d.IngestPerformance(telemetry.PerformanceSample{CPU: 85}); err != nil {
		t.Fatal(err)
	}
	if got := d.RunPass(); len(got) != 1 {
		t.Fatalf("RunPass() = %v, want [cpu_spike]", eventTypes(got))
	}

	cfg := d.Config()
	cfg.SeverityThreshold = telemetry.SeverityCritical
	if err := d.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if got := d.RunPass(); len(got) != 0 {
		t.Errorf("RunPass() after raising severity threshold = %v, want none", eventTypes(got))
	}
}

func TestConfig_ReturnsCopy(t *testing.T) {
	d := newTestDetector(t, nil)
	cfg := d.Config()
	delete(cfg.AnomalyThresholds, telemetry.AnomalyCPUSpike)
	if _, ok := d.Config().AnomalyThresholds[telemetry.AnomalyCPUSpike]; !ok {
		t.Error("mutating Config() result changed detector state")
	}
}

func TestConfig_Interval(t *testing.T) {
	d := newTestDetector(t, nil)
	if got := d.Config().Interval(); got != time.Second {
		t.Errorf("Config().Interval() = %v, want 1s", got)
	}

	cfg := d.Config()
	cfg.UpdateInterval = 250
	if err := d.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if got := d.Config().Interval(); got != 250*time.Millisecond {
		t.Errorf("Config().Interval() after SetConfig = %v, want 250ms", got)
	}
}

func TestScore_RecoversFromPanic(t *testing.T) {
	d := newTestDetector(t, nil)

	got := d.score("broken", kindStatistical, func() ([]anomaly.Candidate, error) {
		panic("boom")
	})
	if got != nil {
		t.Errorf("score() after panic = %v, want nil", got)
	}

	failed := d.score("invalid", kindStatistical, func() ([]anomaly.Candidate, error) {
		return []anomaly.Candidate{{Type: telemetry.AnomalyDrift, Score: 1}}, anomaly.ErrNonFinite
	})
	if failed != nil {
		t.Errorf("score() after error = %v, want nil", failed)
	}

	ok := d.score("rules", kindMotion, func() ([]anomaly.Candidate, error) {
		return []anomaly.Candidate{{Type: telemetry.AnomalySuddenMovement, Score: 0.9}}, nil
	})
	if len(ok) != 1 || ok[0].kind != kindMotion {
		t.Errorf("score() = %+v, want one motion candidate", ok)
	}
}

func TestPutBaseline(t *testing.T) {
	d := newTestDetector(t, nil)

	bad := telemetry.SensorBaseline{SensorType: telemetry.SensorAccelerometer, Mean: []float64{0}}
	if err := d.PutBaseline("phone", bad); err == nil {
		t.Error("PutBaseline(malformed) error = nil")
	}

	good := uniformTestBaseline(telemetry.SensorGyroscope)
	if err := d.PutBaseline("phone", good); err != nil {
		t.Fatalf("PutBaseline() error = %v", err)
	}
	got, ok := d.Baseline("phone", telemetry.SensorGyroscope)
	if !ok || got.SensorType != telemetry.SensorGyroscope {
		t.Errorf("Baseline() = %+v, %v", got, ok)
	}
	all := d.Baselines()
	if len(all) != 1 || all[0].DeviceID != "phone" {
		t.Errorf("Baselines() = %+v", all)
	}
}

func uniformTestBaseline(sensor telemetry.SensorType) telemetry.SensorBaseline {
	three := func(v float64) []float64 { return []float64{v, v, v} }
	return telemetry.SensorBaseline{
		SensorType:   sensor,
		Mean:         three(0),
		Std:          three(1),
		Min:          three(-2),
		Max:          three(2),
		Median:       three(0),
		Percentile25: three(-1),
		Percentile75: three(1),
		IQR:          three(2),
		SamplesCount: 120,
		LastUpdated:  testNow,
	}
}
