package sla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chriscarterux/designdream-sub001/internal/businesstime"
	"github.com/chriscarterux/designdream-sub001/internal/models"
)

// Invalid transition errors propagate to the caller unchanged so a buggy
// lifecycle manager fails loudly instead of silently no-opping.
var (
	ErrNotActive = errors.New("sla record is not active")
	ErrNotPaused = errors.New("sla record is not paused")
	ErrCompleted = errors.New("sla record is already completed")
)

// Store is the persistence surface the tracker needs. The conditional
// mutations return false when the status guard did not match, which the
// tracker turns into an invalid-transition error; this makes concurrent
// pause/resume races safe without a separate lock.
type Store interface {
	CreateSLARecord(ctx context.Context, subjectID string, targetHours int, startedAt time.Time) (models.SLARecord, error)
	GetSLARecord(ctx context.Context, id string) (models.SLARecord, error)
	GetSLARecordBySubject(ctx context.Context, subjectID string) (models.SLARecord, error)
	PauseSLARecord(ctx context.Context, id string, pausedAt time.Time) (bool, error)
	ResumeSLARecord(ctx context.Context, id string, pausedHours int) (bool, error)
	CompleteSLARecord(ctx context.Context, id string, completedAt time.Time) (bool, error)
	SetNotifiedLevel(ctx context.Context, id string, level models.WarningLevel) (bool, error)
}

// Tracker owns the SLA record lifecycle: start, pause, resume, complete,
// and the evaluate read. All time math goes through the injected calendar
// and clock.
type Tracker struct {
	store      Store
	cal        businesstime.Calendar
	thresholds Thresholds
	now        func() time.Time
}

func NewTracker(store Store, cal businesstime.Calendar, thresholds Thresholds, now func() time.Time) *Tracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{store: store, cal: cal, thresholds: thresholds, now: now}
}

// Start creates an active record for the subject with the clock running.
func (t *Tracker) Start(ctx context.Context, subjectID string, targetHours int) (models.SLARecord, error) {
	if targetHours <= 0 {
		return models.SLARecord{}, fmt.Errorf("target hours must be positive, got %d", targetHours)
	}
	return t.store.CreateSLARecord(ctx, subjectID, targetHours, t.now())
}

// Pause freezes the clock. Only valid from Active.
func (t *Tracker) Pause(ctx context.Context, id string) error {
	rec, err := t.store.GetSLARecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != models.SLAActive {
		return fmt.Errorf("pause %s: %w", id, ErrNotActive)
	}
	ok, err := t.store.PauseSLARecord(ctx, id, t.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pause %s: %w", id, ErrNotActive)
	}
	return nil
}

// Resume folds the business hours spent paused into pause_duration_hours
// and restarts the clock. Only valid from Paused.
func (t *Tracker) Resume(ctx context.Context, id string) error {
	rec, err := t.store.GetSLARecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != models.SLAPaused || rec.PausedAt == nil {
		return fmt.Errorf("resume %s: %w", id, ErrNotPaused)
	}
	pausedHours := t.cal.HoursBetween(*rec.PausedAt, t.now())
	ok, err := t.store.ResumeSLARecord(ctx, id, pausedHours)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("resume %s: %w", id, ErrNotPaused)
	}
	return nil
}

// Complete terminally freezes the record. Valid from Active or Paused; a
// violated record can still be completed since violation is derived, not a
// state.
func (t *Tracker) Complete(ctx context.Context, id string) error {
	rec, err := t.store.GetSLARecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == models.SLACompleted {
		return fmt.Errorf("complete %s: %w", id, ErrCompleted)
	}
	ok, err := t.store.CompleteSLARecord(ctx, id, t.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("complete %s: %w", id, ErrCompleted)
	}
	return nil
}

// Evaluate computes the read-side tuple for a record at the given instant.
// Pure read: callers may invoke it concurrently without coordination.
func (t *Tracker) Evaluate(rec models.SLARecord, now time.Time) models.SLAEvaluation {
	effective := now
	switch {
	case rec.Status == models.SLACompleted && rec.CompletedAt != nil:
		effective = *rec.CompletedAt
	case rec.Status == models.SLAPaused && rec.PausedAt != nil:
		effective = *rec.PausedAt
	}

	elapsed := t.cal.HoursBetween(rec.StartedAt, effective) - rec.PauseDurationHours
	if elapsed < 0 {
		elapsed = 0
	}
	// Classify on the unclamped remainder so a blown deadline stays red even
	// with a negative red threshold configured.
	level := Classify(float64(rec.TargetHours-elapsed), t.thresholds)
	remaining := rec.TargetHours - elapsed
	if remaining < 0 {
		remaining = 0
	}

	pct := 0.0
	if rec.TargetHours > 0 {
		pct = float64(elapsed) / float64(rec.TargetHours) * 100
	}
	if pct > 100 {
		pct = 100
	}

	eval := models.SLAEvaluation{
		BusinessHoursElapsed: elapsed,
		HoursRemaining:       remaining,
		PercentageComplete:   pct,
		WarningLevel:         level,
	}
	if rec.Status == models.SLAActive && remaining > 0 {
		done := t.cal.EstimatedCompletion(remaining, now)
		eval.EstimatedCompletion = &done
	}
	return eval
}

// EvaluateSubject loads the subject's record and evaluates it at now().
func (t *Tracker) EvaluateSubject(ctx context.Context, subjectID string) (models.SLARecord, models.SLAEvaluation, error) {
	rec, err := t.store.GetSLARecordBySubject(ctx, subjectID)
	if err != nil {
		return models.SLARecord{}, models.SLAEvaluation{}, err
	}
	return rec, t.Evaluate(rec, t.now()), nil
}

var levelRank = map[models.WarningLevel]int{
	models.WarningNone:   0,
	models.WarningYellow: 1,
	models.WarningRed:    2,
}

// ClaimWarningTransition atomically records that the notifier is about to
// fire for level. It returns true at most once per upward threshold
// crossing, so warning and violation notifications fire exactly once even
// under concurrent evaluation.
func (t *Tracker) ClaimWarningTransition(ctx context.Context, rec models.SLARecord, level models.WarningLevel) (bool, error) {
	if levelRank[level] <= levelRank[rec.NotifiedLevel] {
		return false, nil
	}
	return t.store.SetNotifiedLevel(ctx, rec.ID, level)
}
