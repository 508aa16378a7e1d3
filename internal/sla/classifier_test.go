package sla

import (
	"testing"

	"github.com/chriscarterux/designdream-sub001/internal/models"
)

func TestClassifyBoundaries(t *testing.T) {
	th := DefaultThresholds()

	cases := []struct {
		remaining float64
		want      models.WarningLevel
	}{
		{24, models.WarningNone},
		{12.01, models.WarningNone},
		{12, models.WarningYellow},
		{1, models.WarningYellow},
		{0, models.WarningRed},
		{-5, models.WarningRed},
	}
	for _, c := range cases {
		if got := Classify(c.remaining, th); got != c.want {
			t.Fatalf("Classify(%v) = %s, want %s", c.remaining, got, c.want)
		}
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	th := Thresholds{YellowHours: 4, RedHours: 1}
	if got := Classify(5, th); got != models.WarningNone {
		t.Fatalf("expected none at 5h with yellow=4, got %s", got)
	}
	if got := Classify(4, th); got != models.WarningYellow {
		t.Fatalf("expected yellow at 4h, got %s", got)
	}
	if got := Classify(1, th); got != models.WarningRed {
		t.Fatalf("expected red at 1h with red=1, got %s", got)
	}
}

func TestRiskAndViolationPredicates(t *testing.T) {
	th := DefaultThresholds()
	if !IsAtRisk(12, th) || IsAtRisk(13, th) {
		t.Fatalf("IsAtRisk boundary at 12 hours is wrong")
	}
	if !IsViolated(0) || !IsViolated(-1) || IsViolated(0.5) {
		t.Fatalf("IsViolated boundary at 0 hours is wrong")
	}
}
