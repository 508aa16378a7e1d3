package sla

import (
	"github.com/chriscarterux/designdream-sub001/internal/models"
)

// Thresholds configure the warning classifier. Injected rather than
// hardcoded so per-plan SLA tiers can carry their own values.
type Thresholds struct {
	YellowHours float64
	RedHours    float64
}

// DefaultThresholds yields yellow at 12 business hours remaining and red at
// the deadline.
func DefaultThresholds() Thresholds {
	return Thresholds{YellowHours: 12, RedHours: 0}
}

// Classify maps hours remaining to a warning level. Red wins over yellow.
func Classify(hoursRemaining float64, t Thresholds) models.WarningLevel {
	switch {
	case hoursRemaining <= t.RedHours:
		return models.WarningRed
	case hoursRemaining <= t.YellowHours:
		return models.WarningYellow
	default:
		return models.WarningNone
	}
}

// IsAtRisk reports whether the record is within the yellow threshold.
func IsAtRisk(hoursRemaining float64, t Thresholds) bool {
	return hoursRemaining <= t.YellowHours
}

// IsViolated reports whether the deadline has been reached or passed.
func IsViolated(hoursRemaining float64) bool {
	return hoursRemaining <= 0
}
