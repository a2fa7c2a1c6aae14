// Package anomaly implements the anomaly scorers: statistical outlier
// scoring against a baseline, isolation and local-outlier-factor density
// scoring against recent samples, fixed-threshold rules, and severity mapping.
// Every scorer returns a confidence in [0, 1].
package anomaly

import (
	"errors"
	"math"

	"github.com/HerbHall/twinhub/pkg/telemetry"
)

// Statistical scorer constants.
const (
	ZScoreThreshold = 2.5 // standard deviations that saturate the z component
	IQRMultiplier   = 3.0 // outlier fence distance in IQRs
	maxAxes         = 3
)

var (
	// ErrNonFinite is returned when a sample contains NaN or Inf.
	ErrNonFinite = errors.New("sample contains non-finite value")
	// ErrMalformedBaseline is returned when baseline per-axis slices disagree
	// or cover fewer axes than the sample.
	ErrMalformedBaseline = errors.New("malformed baseline")
)

// AxisScore is the per-axis breakdown of a statistical score.
type AxisScore struct {
	Z   float64 // min(|z| / ZScoreThreshold, 1), 0 when std is 0
	IQR float64 // min(distance outside fence / IQR, 1), 0 inside the fence
}

// Total returns the combined axis score.
func (a AxisScore) Total() float64 {
	return a.Z + a.IQR
}

// StatisticalBreakdown scores each of the first three axes of sample
// against the baseline.
func StatisticalBreakdown(sample []float64, b *telemetry.SensorBaseline) ([]AxisScore, error) {
	if b == nil {
		return nil, ErrMalformedBaseline
	}
	if err := checkFinite(sample); err != nil {
		return nil, err
	}
	n := len(sample)
	if n > maxAxes {
		n = maxAxes
	}
	if axes := b.Axes(); axes < n {
		return nil, ErrMalformedBaseline
	}

	scores := make([]AxisScore, n)
	for i := 0; i < n; i++ {
		value := sample[i]
		mean, std := b.Mean[i], b.Std[i]
		q1, q3 := b.Percentile25[i], b.Percentile75[i]

		var s AxisScore
		if std > 0 {
			z := math.Abs(value-mean) / std
			s.Z = math.Min(z/ZScoreThreshold, 1)
		}

		iqr := q3 - q1
		if iqr > 0 {
			lower := q1 - IQRMultiplier*iqr
			upper := q3 + IQRMultiplier*iqr
			switch {
			case value < lower:
				s.IQR = math.Min((lower-value)/iqr, 1)
			case value > upper:
				s.IQR = math.Min((value-upper)/iqr, 1)
			}
		}
		scores[i] = s
	}
	return scores, nil
}

// StatisticalScore averages the per-axis z and IQR components and clips the
// result to [0, 1]. An empty sample scores 0.
func StatisticalScore(sample []float64, b *telemetry.SensorBaseline) (float64, error) {
	axes, err := StatisticalBreakdown(sample, b)
	if err != nil {
		return 0, err
	}
	if len(axes) == 0 {
		return 0, nil
	}
	total := 0.0
	for _, a := range axes {
		total += a.Total()
	}
	return math.Min(total/float64(len(axes)), 1), nil
}

func checkFinite(sample []float64) error {
	for _, v := range sample {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFinite
		}
	}
	return nil
}
