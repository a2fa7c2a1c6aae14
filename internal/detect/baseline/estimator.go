// Package baseline computes per-axis summary statistics of recent sensor
// history. The result is the reference point for statistical scoring.
package baseline

import (
	"math"
	"sort"
	"time"

	"github.com/HerbHall/twinhub/pkg/telemetry"
)

// Axes is the number of axes summarised for every sensor.
const Axes = 3

// NominalSampleRate is the assumed sensor rate in Hz. TimeWindowMinutes is
// derived from it rather than from sample timestamps.
const NominalSampleRate = 60

// MinSamples is the history size a sensor must exceed before a baseline is built.
const MinSamples = 100

// Compute summarises samples (one []float64 per sample, x/y/z) into a baseline.
func Compute(sensor telemetry.SensorType, samples [][]float64) telemetry.SensorBaseline {
	return ComputeAt(sensor, samples, time.Now())
}

// ComputeAt is Compute with an explicit LastUpdated time. Output depends only
// on its arguments.
//
// Empty input yields a degenerate baseline with mean 0 and std 1 so that
// downstream z-scores never divide by zero. Missing axes in short samples
// read as 0.
func ComputeAt(sensor telemetry.SensorType, samples [][]float64, at time.Time) telemetry.SensorBaseline {
	if len(samples) == 0 {
		return telemetry.SensorBaseline{
			SensorType:   sensor,
			Mean:         []float64{0, 0, 0},
			Std:          []float64{1, 1, 1},
			Min:          []float64{0, 0, 0},
			Max:          []float64{0, 0, 0},
			Median:       []float64{0, 0, 0},
			Percentile25: []float64{0, 0, 0},
			Percentile75: []float64{0, 0, 0},
			IQR:          []float64{0, 0, 0},
			LastUpdated:  at,
		}
	}

	b := telemetry.SensorBaseline{
		SensorType:        sensor,
		Mean:              make([]float64, Axes),
		Std:               make([]float64, Axes),
		Min:               make([]float64, Axes),
		Max:               make([]float64, Axes),
		Median:            make([]float64, Axes),
		Percentile25:      make([]float64, Axes),
		Percentile75:      make([]float64, Axes),
		IQR:               make([]float64, Axes),
		SamplesCount:      len(samples),
		TimeWindowMinutes: len(samples) / NominalSampleRate,
		LastUpdated:       at,
	}

	values := make([]float64, len(samples))
	for axis := 0; axis < Axes; axis++ {
		for i, s := range samples {
			if axis < len(s) {
				values[i] = s[axis]
			} else {
				values[i] = 0
			}
		}

		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)

		// A constant axis has exactly its value as mean and zero spread;
		// summation error must not turn it into a tiny non-zero std.
		if sorted[0] == sorted[len(sorted)-1] {
			b.Mean[axis], b.Std[axis] = sorted[0], 0
		} else {
			b.Mean[axis], b.Std[axis] = meanStd(values)
		}

		b.Min[axis] = sorted[0]
		b.Max[axis] = sorted[len(sorted)-1]
		b.Median[axis] = NearestRank(sorted, 0.5)
		b.Percentile25[axis] = NearestRank(sorted, 0.25)
		b.Percentile75[axis] = NearestRank(sorted, 0.75)
		b.IQR[axis] = b.Percentile75[axis] - b.Percentile25[axis]
	}

	return b
}

// NearestRank returns sorted[floor(len*p)] without interpolation.
// sorted must be ascending and non-empty.
func NearestRank(sorted []float64, p float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// meanStd returns the mean and population standard deviation (divide by N).
func meanStd(values []float64) (mean, std float64) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
