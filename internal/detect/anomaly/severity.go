package anomaly

import "github.com/HerbHall/twinhub/pkg/telemetry"

// Severity cutoffs on the [0, 1] confidence scale. Each is inclusive.
const (
	CriticalCutoff = 0.9
	HighCutoff     = 0.75
	MediumCutoff   = 0.6
)

// SeverityFor maps a confidence score onto a severity tier.
func SeverityFor(score float64) telemetry.Severity {
	switch {
	case score >= CriticalCutoff:
		return telemetry.SeverityCritical
	case score >= HighCutoff:
		return telemetry.SeverityHigh
	case score >= MediumCutoff:
		return telemetry.SeverityMedium
	default:
		return telemetry.SeverityLow
	}
}
