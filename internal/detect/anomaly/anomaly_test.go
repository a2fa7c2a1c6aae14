package anomaly

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/HerbHall/twinhub/internal/detect/baseline"
	"github.com/HerbHall/twinhub/pkg/telemetry"
)

func uniformBaseline(mean, std, q1, q3 float64) *telemetry.SensorBaseline {
	three := func(v float64) []float64 { return []float64{v, v, v} }
	return &telemetry.SensorBaseline{
		SensorType:   telemetry.SensorAccelerometer,
		Mean:         three(mean),
		Std:          three(std),
		Min:          three(q1),
		Max:          three(q3),
		Median:       three((q1 + q3) / 2),
		Percentile25: three(q1),
		Percentile75: three(q3),
		IQR:          three(q3 - q1),
	}
}

func TestStatisticalScore_ZeroVarianceBaseline(t *testing.T) {
	history := make([][]float64, 120)
	for i := range history {
		history[i] = []float64{0.5, -0.25, 9.8}
	}
	b := baseline.ComputeAt(telemetry.SensorAccelerometer, history, time.Time{})

	score, err := StatisticalScore([]float64{0.5, -0.25, 9.8}, &b)
	if err != nil {
		t.Fatalf("StatisticalScore() error = %v", err)
	}
	if score != 0 {
		t.Errorf("StatisticalScore() = %v, want 0 for sample equal to constant history", score)
	}
}

func TestStatisticalBreakdown_IQRBoundary(t *testing.T) {
	// Q1=0, Q3=1, IQR=1: fences at -3 and 4. std=0 isolates the IQR component.
	b := uniformBaseline(0, 0, 0, 1)

	tests := []struct {
		name    string
		value   float64
		wantIQR float64
	}{
		{name: "exactly at upper fence", value: 4, wantIQR: 0},
		{name: "just above upper fence", value: 4.5, wantIQR: 0.5},
		{name: "far above upper fence saturates", value: 40, wantIQR: 1},
		{name: "exactly at lower fence", value: -3, wantIQR: 0},
		{name: "just below lower fence", value: -3.25, wantIQR: 0.25},
		{name: "inside fences", value: 0.5, wantIQR: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			axes, err := StatisticalBreakdown([]float64{tt.value, 0.5, 0.5}, b)
			if err != nil {
				t.Fatalf("StatisticalBreakdown() error = %v", err)
			}
			if math.Abs(axes[0].IQR-tt.wantIQR) > 1e-12 {
				t.Errorf("IQR component = %v, want %v", axes[0].IQR, tt.wantIQR)
			}
			if axes[0].Z != 0 {
				t.Errorf("Z component = %v, want 0 when std is 0", axes[0].Z)
			}
		})
	}
}

func TestStatisticalScore_GravitySpike(t *testing.T) {
	b := &telemetry.SensorBaseline{
		SensorType:   telemetry.SensorAccelerometer,
		Mean:         []float64{0, 0, 9.8},
		Std:          []float64{0.1, 0.1, 0.2},
		Min:          []float64{-0.3, -0.3, 9.2},
		Max:          []float64{0.3, 0.3, 10.4},
		Median:       []float64{0, 0, 9.8},
		Percentile25: []float64{-0.1, -0.1, 9.6},
		Percentile75: []float64{0.1, 0.1, 10.0},
		IQR:          []float64{0.2, 0.2, 0.4},
	}
	sample := []float64{0, 0, 15}

	axes, err := StatisticalBreakdown(sample, b)
	if err != nil {
		t.Fatalf("StatisticalBreakdown() error = %v", err)
	}
	// |15-9.8|/0.2 = 26 standard deviations, far past 2.5.
	if axes[2].Z != 1 {
		t.Errorf("z component on z axis = %v, want saturated 1", axes[2].Z)
	}
	if axes[2].IQR != 1 {
		t.Errorf("IQR component on z axis = %v, want saturated 1", axes[2].IQR)
	}
	if axes[0].Total() != 0 || axes[1].Total() != 0 {
		t.Errorf("x/y axes at their mean should score 0, got %+v %+v", axes[0], axes[1])
	}

	score, err := StatisticalScore(sample, b)
	if err != nil {
		t.Fatalf("StatisticalScore() error = %v", err)
	}
	// Two saturated components on one of three axes.
	if math.Abs(score-2.0/3.0) > 1e-9 {
		t.Errorf("StatisticalScore() = %v, want 2/3", score)
	}
}

func TestStatisticalScore_ClippedToOne(t *testing.T) {
	b := uniformBaseline(0, 1, -1, 1)
	score, err := StatisticalScore([]float64{100, 100, 100}, b)
	if err != nil {
		t.Fatalf("StatisticalScore() error = %v", err)
	}
	if score != 1 {
		t.Errorf("StatisticalScore() = %v, want 1", score)
	}
}

func TestStatisticalScore_Errors(t *testing.T) {
	good := uniformBaseline(0, 1, -1, 1)

	if _, err := StatisticalScore([]float64{math.NaN(), 0, 0}, good); !errors.Is(err, ErrNonFinite) {
		t.Errorf("NaN sample error = %v, want ErrNonFinite", err)
	}
	if _, err := StatisticalScore([]float64{0, math.Inf(1), 0}, good); !errors.Is(err, ErrNonFinite) {
		t.Errorf("Inf sample error = %v, want ErrNonFinite", err)
	}
	if _, err := StatisticalScore([]float64{0, 0, 0}, nil); !errors.Is(err, ErrMalformedBaseline) {
		t.Errorf("nil baseline error = %v, want ErrMalformedBaseline", err)
	}

	ragged := uniformBaseline(0, 1, -1, 1)
	ragged.Std = ragged.Std[:1]
	if _, err := StatisticalScore([]float64{0, 0, 0}, ragged); !errors.Is(err, ErrMalformedBaseline) {
		t.Errorf("ragged baseline error = %v, want ErrMalformedBaseline", err)
	}
}

func TestStatisticalScore_ShortSample(t *testing.T) {
	b := uniformBaseline(0, 1, -1, 1)
	score, err := StatisticalScore([]float64{2.5}, b)
	if err != nil {
		t.Fatalf("StatisticalScore() error = %v", err)
	}
	// One axis, z = 2.5 -> component 1, inside fences.
	if score != 1 {
		t.Errorf("StatisticalScore() = %v, want 1", score)
	}
}

func TestDensityScorers_TooFewNeighbors(t *testing.T) {
	recent := [][]float64{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}, {3, 3, 3}}
	samples := [][]float64{{0, 0, 0}, {1000, -1000, 1000}, {0.5, 0.5, 0.5}}

	for _, s := range samples {
		if got := IsolationScore(s, recent); got != 0 {
			t.Errorf("IsolationScore(%v) with 4 neighbours = %v, want 0", s, got)
		}
		if got := LOFScore(s, recent); got != 0 {
			t.Errorf("LOFScore(%v) with 4 neighbours = %v, want 0", s, got)
		}
	}
}

func TestIsolationScore_LiteralOrdering(t *testing.T) {
	recent := [][]float64{
		{0, 0, 0},
		{10, 0, 0},
		{0, 10, 0},
		{0, 0, 10},
		{10, 10, 10},
	}

	nearDuplicate := IsolationScore([]float64{0, 0, 0.01}, recent)
	farOutlier := IsolationScore([]float64{1000, 1000, 1000}, recent)

	// The formula scores near-duplicates high and distant points low.
	if nearDuplicate < 0.9 {
		t.Errorf("near-duplicate score = %v, want > 0.9", nearDuplicate)
	}
	if farOutlier > 0.1 {
		t.Errorf("far outlier score = %v, want < 0.1", farOutlier)
	}
	for _, s := range []float64{nearDuplicate, farOutlier} {
		if s < 0 || s > 1 {
			t.Errorf("score %v outside [0, 1]", s)
		}
	}
}

func TestIsolationScore_NonFinite(t *testing.T) {
	recent := [][]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 1}}
	if got := IsolationScore([]float64{math.NaN(), 0, 0}, recent); got != 0 {
		t.Errorf("IsolationScore(NaN) = %v, want 0", got)
	}
}

func TestLOFScore(t *testing.T) {
	tests := []struct {
		name      string
		sample    []float64
		neighbors [][]float64
		want      float64
	}{
		{
			name:   "point inside resting cluster",
			sample: []float64{0, 0, 9.8},
			neighbors: [][]float64{
				{0, 0, 9.8}, {0, 0, 9.8}, {0, 0, 9.8}, {0, 0, 9.8}, {0, 0, 9.8},
			},
			want: 0,
		},
		{
			name:   "point far from tight cluster",
			sample: []float64{10, 0, 0},
			neighbors: [][]float64{
				{0.001, 0, 0}, {0.001, 0, 0}, {0.001, 0, 0}, {0.001, 0, 0}, {0.001, 0, 0},
			},
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LOFScore(tt.sample, tt.neighbors); got != tt.want {
				t.Errorf("LOFScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		score float64
		want  telemetry.Severity
	}{
		{1.0, telemetry.SeverityCritical},
		{0.9, telemetry.SeverityCritical},
		{0.8999, telemetry.SeverityHigh},
		{0.75, telemetry.SeverityHigh},
		{0.7499, telemetry.SeverityMedium},
		{0.6, telemetry.SeverityMedium},
		{0.5999, telemetry.SeverityLow},
		{0, telemetry.SeverityLow},
	}
	for _, tt := range tests {
		if got := SeverityFor(tt.score); got != tt.want {
			t.Errorf("SeverityFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSeverityFor_Monotonic(t *testing.T) {
	prev := SeverityFor(0).Rank()
	for s := 0.0; s <= 1.0; s += 0.001 {
		r := SeverityFor(s).Rank()
		if r < prev {
			t.Fatalf("severity rank dropped at score %v", s)
		}
		prev = r
	}
}

func findCandidate(cs []Candidate, typ telemetry.AnomalyType) (Candidate, bool) {
	for _, c := range cs {
		if c.Type == typ {
			return c, true
		}
	}
	return Candidate{}, false
}

func TestMotionCandidates_VibrationBoundary(t *testing.T) {
	still := telemetry.Vector3{}

	if _, ok := findCandidate(MotionCandidates(telemetry.Vector3{X: 30}, still), telemetry.AnomalyExcessiveVibration); ok {
		t.Error("magnitude exactly 30 fired excessive_vibration")
	}

	c, ok := findCandidate(MotionCandidates(telemetry.Vector3{X: 30.001}, still), telemetry.AnomalyExcessiveVibration)
	if !ok {
		t.Fatal("magnitude 30.001 did not fire excessive_vibration")
	}
	if math.Abs(c.Score-30.001/50) > 1e-12 {
		t.Errorf("score = %v, want %v", c.Score, 30.001/50)
	}
}

func TestMotionCandidates(t *testing.T) {
	tests := []struct {
		name  string
		accel telemetry.Vector3
		gyro  telemetry.Vector3
		want  map[telemetry.AnomalyType]float64
	}{
		{
			name:  "at rest",
			accel: telemetry.Vector3{Z: 9.8},
			gyro:  telemetry.Vector3{},
			want:  map[telemetry.AnomalyType]float64{},
		},
		{
			name:  "fast rotation only",
			accel: telemetry.Vector3{Z: 9.8},
			gyro:  telemetry.Vector3{X: 120, Y: 160},
			want:  map[telemetry.AnomalyType]float64{telemetry.AnomalyUnusualRotation: 1},
		},
		{
			name:  "sudden movement",
			accel: telemetry.Vector3{Y: 20},
			gyro:  telemetry.Vector3{Z: 60},
			want: map[telemetry.AnomalyType]float64{
				telemetry.AnomalySuddenMovement: 1, // (20/15 + 60/50)/2 > 1
			},
		},
		{
			name:  "shake fires all motion rules",
			accel: telemetry.Vector3{X: 40},
			gyro:  telemetry.Vector3{X: 150},
			want: map[telemetry.AnomalyType]float64{
				telemetry.AnomalyExcessiveVibration: 0.8,
				telemetry.AnomalyUnusualRotation:    0.75,
				telemetry.AnomalySuddenMovement:     1,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MotionCandidates(tt.accel, tt.gyro)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d candidates %+v, want %d", len(got), got, len(tt.want))
			}
			for typ, score := range tt.want {
				c, ok := findCandidate(got, typ)
				if !ok {
					t.Errorf("missing %s", typ)
					continue
				}
				if math.Abs(c.Score-score) > 1e-12 {
					t.Errorf("%s score = %v, want %v", typ, c.Score, score)
				}
			}
		})
	}
}

func TestMotionCandidates_NonFinite(t *testing.T) {
	if got := MotionCandidates(telemetry.Vector3{X: math.Inf(1)}, telemetry.Vector3{}); got != nil {
		t.Errorf("MotionCandidates(Inf) = %v, want nil", got)
	}
}

func TestPerformanceCandidates(t *testing.T) {
	tests := []struct {
		name   string
		sample telemetry.PerformanceSample
		want   []telemetry.AnomalyType
	}{
		{"idle", telemetry.PerformanceSample{CPU: 20, Memory: 40, Temperature: 30}, nil},
		{"boundaries do not fire", telemetry.PerformanceSample{CPU: 80, Memory: 85, Temperature: 45}, nil},
		{"cpu spike", telemetry.PerformanceSample{CPU: 95}, []telemetry.AnomalyType{telemetry.AnomalyCPUSpike}},
		{"memory pressure", telemetry.PerformanceSample{Memory: 90}, []telemetry.AnomalyType{telemetry.AnomalyMemoryLeak}},
		{"warm", telemetry.PerformanceSample{Temperature: 48}, []telemetry.AnomalyType{telemetry.AnomalyTemperatureSpike}},
		{
			"hot fires spike and throttling",
			telemetry.PerformanceSample{Temperature: 55},
			[]telemetry.AnomalyType{telemetry.AnomalyTemperatureSpike, telemetry.AnomalyThermalThrottling},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PerformanceCandidates(tt.sample)
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want types %v", got, tt.want)
			}
			for i, typ := range tt.want {
				if got[i].Type != typ {
					t.Errorf("candidate[%d] = %s, want %s", i, got[i].Type, typ)
				}
			}
		})
	}

	hot := PerformanceCandidates(telemetry.PerformanceSample{Temperature: 60})
	for _, c := range hot {
		if c.Score != 0.75 {
			t.Errorf("%s score = %v, want 60/80", c.Type, c.Score)
		}
	}
}
