package anomaly

import (
	"math"

	"github.com/HerbHall/twinhub/pkg/telemetry"
)

// Rule thresholds. Every comparison is strict.
const (
	VibrationMagnitude      = 30.0  // m/s^2
	RotationMagnitude       = 100.0 // deg/s
	SuddenAccelMagnitude    = 15.0
	SuddenGyroMagnitude     = 50.0
	CPUSpikePercent         = 80.0
	MemoryLeakPercent       = 85.0
	TemperatureSpikeCelsius = 45.0
	ThrottlingCelsius       = 50.0
)

// Candidate is a raw (type, score) pair before threshold filtering.
type Candidate struct {
	Type  telemetry.AnomalyType
	Score float64
}

// MotionCandidates applies the vibration, rotation and sudden-movement
// rules to the latest accelerometer and gyroscope vectors. Several rules may
// fire for the same sample.
func MotionCandidates(accel, gyro telemetry.Vector3) []Candidate {
	if !accel.Finite() || !gyro.Finite() {
		return nil
	}
	accelMag := accel.Magnitude()
	gyroMag := gyro.Magnitude()

	var out []Candidate
	if accelMag > VibrationMagnitude {
		out = append(out, Candidate{
			Type:  telemetry.AnomalyExcessiveVibration,
			Score: math.Min(accelMag/50, 1),
		})
	}
	if gyroMag > RotationMagnitude {
		out = append(out, Candidate{
			Type:  telemetry.AnomalyUnusualRotation,
			Score: math.Min(gyroMag/200, 1),
		})
	}
	if accelMag > SuddenAccelMagnitude && gyroMag > SuddenGyroMagnitude {
		out = append(out, Candidate{
			Type:  telemetry.AnomalySuddenMovement,
			Score: math.Min((accelMag/SuddenAccelMagnitude+gyroMag/SuddenGyroMagnitude)/2, 1),
		})
	}
	return out
}

// PerformanceCandidates applies the CPU, memory and temperature rules.
// A temperature above ThrottlingCelsius fires both the spike and the
// throttling rule.
func PerformanceCandidates(p telemetry.PerformanceSample) []Candidate {
	if !p.Finite() {
		return nil
	}

	var out []Candidate
	if p.CPU > CPUSpikePercent {
		out = append(out, Candidate{Type: telemetry.AnomalyCPUSpike, Score: math.Min(p.CPU/100, 1)})
	}
	if p.Memory > MemoryLeakPercent {
		out = append(out, Candidate{Type: telemetry.AnomalyMemoryLeak, Score: math.Min(p.Memory/100, 1)})
	}
	if p.Temperature > TemperatureSpikeCelsius {
		out = append(out, Candidate{Type: telemetry.AnomalyTemperatureSpike, Score: math.Min(p.Temperature/80, 1)})
	}
	if p.Temperature > ThrottlingCelsius {
		out = append(out, Candidate{Type: telemetry.AnomalyThermalThrottling, Score: math.Min(p.Temperature/80, 1)})
	}
	return out
}
