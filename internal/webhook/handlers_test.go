package webhook

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chriscarterux/designdream-sub001/internal/businesstime"
	"github.com/chriscarterux/designdream-sub001/internal/models"
	"github.com/chriscarterux/designdream-sub001/internal/sla"
	"github.com/chriscarterux/designdream-sub001/internal/store"
)

type memSLAStore struct {
	byID      map[string]models.SLARecord
	bySubject map[string]string
	seq       int
}

func newMemSLAStore() *memSLAStore {
	return &memSLAStore{byID: map[string]models.SLARecord{}, bySubject: map[string]string{}}
}

func (m *memSLAStore) CreateSLARecord(_ context.Context, subjectID string, targetHours int, startedAt time.Time) (models.SLARecord, error) {
	m.seq++
	rec := models.SLARecord{
		ID:            "rec-" + strconv.Itoa(m.seq),
		SubjectID:     subjectID,
		Status:        models.SLAActive,
		StartedAt:     startedAt,
		TargetHours:   targetHours,
		NotifiedLevel: models.WarningNone,
	}
	m.byID[rec.ID] = rec
	m.bySubject[subjectID] = rec.ID
	return rec, nil
}

func (m *memSLAStore) GetSLARecord(_ context.Context, id string) (models.SLARecord, error) {
	rec, ok := m.byID[id]
	if !ok {
		return models.SLARecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *memSLAStore) GetSLARecordBySubject(ctx context.Context, subjectID string) (models.SLARecord, error) {
	id, ok := m.bySubject[subjectID]
	if !ok {
		return models.SLARecord{}, store.ErrNotFound
	}
	return m.GetSLARecord(ctx, id)
}

func (m *memSLAStore) PauseSLARecord(_ context.Context, id string, pausedAt time.Time) (bool, error) {
	rec, ok := m.byID[id]
	if !ok || rec.Status != models.SLAActive {
		return false, nil
	}
	rec.Status = models.SLAPaused
	rec.PausedAt = &pausedAt
	m.byID[id] = rec
	return true, nil
}

func (m *memSLAStore) ResumeSLARecord(_ context.Context, id string, pausedHours int) (bool, error) {
	rec, ok := m.byID[id]
	if !ok || rec.Status != models.SLAPaused {
		return false, nil
	}
	rec.Status = models.SLAActive
	rec.PausedAt = nil
	rec.PauseDurationHours += pausedHours
	m.byID[id] = rec
	return true, nil
}

func (m *memSLAStore) CompleteSLARecord(_ context.Context, id string, completedAt time.Time) (bool, error) {
	rec, ok := m.byID[id]
	if !ok || rec.Status == models.SLACompleted {
		return false, nil
	}
	rec.Status = models.SLACompleted
	rec.CompletedAt = &completedAt
	m.byID[id] = rec
	return true, nil
}

func (m *memSLAStore) SetNotifiedLevel(_ context.Context, id string, level models.WarningLevel) (bool, error) {
	rec, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	rec.NotifiedLevel = level
	m.byID[id] = rec
	return true, nil
}

type memAuditor struct {
	rows []string
}

func (a *memAuditor) AppendAudit(_ context.Context, subjectID, event, detail string) error {
	a.rows = append(a.rows, fmt.Sprintf("%s %s %s", subjectID, event, detail))
	return nil
}

type memNotifier struct {
	messages []string
}

func (n *memNotifier) Notify(_ context.Context, subjectID, message string) error {
	n.messages = append(n.messages, subjectID+": "+message)
	return nil
}

type stubAnalyzer struct {
	category string
}

func (a stubAnalyzer) Analyze(_ context.Context, _ string) (string, error) {
	return a.category, nil
}

func lifecycleFixture() (*LifecycleHandlers, *memSLAStore, *memAuditor, *memNotifier) {
	records := newMemSLAStore()
	audit := &memAuditor{}
	notifier := &memNotifier{}
	clock := func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }
	tracker := sla.NewTracker(records, businesstime.Default(), sla.DefaultThresholds(), clock)
	h := NewLifecycleHandlers(tracker, records, notifier, stubAnalyzer{category: "logo"}, audit, 48, zerolog.Nop())
	return h, records, audit, notifier
}

func startedEvent(requestID string, targetHours int) Event {
	payload := fmt.Sprintf(`{"type":"request.started","data":{"request_id":%q,"target_hours":%d}}`, requestID, targetHours)
	return Event{ExternalEventID: "evt-" + requestID, Provider: "tracker", Type: "request.started", Payload: []byte(payload)}
}

func TestHandleRequestStartedIsIdempotent(t *testing.T) {
	h, records, _, _ := lifecycleFixture()
	ctx := context.Background()

	if err := h.HandleRequestStarted(ctx, startedEvent("req-1", 24)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	rec, err := records.GetSLARecordBySubject(ctx, "req-1")
	if err != nil {
		t.Fatalf("record missing: %v", err)
	}
	if rec.TargetHours != 24 || rec.Status != models.SLAActive {
		t.Fatalf("unexpected record %+v", rec)
	}

	// Redelivery converges instead of opening a second record.
	if err := h.HandleRequestStarted(ctx, startedEvent("req-1", 24)); err != nil {
		t.Fatalf("redelivery must no-op, got %v", err)
	}
	if records.seq != 1 {
		t.Fatalf("expected one record, got %d", records.seq)
	}
}

func TestHandleRequestStartedDefaultTarget(t *testing.T) {
	h, records, _, _ := lifecycleFixture()
	ctx := context.Background()

	ev := Event{
		ExternalEventID: "evt-2",
		Provider:        "tracker",
		Type:            "request.started",
		Payload:         []byte(`{"type":"request.started","data":{"request_id":"req-2"}}`),
	}
	if err := h.HandleRequestStarted(ctx, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	rec, _ := records.GetSLARecordBySubject(ctx, "req-2")
	if rec.TargetHours != 48 {
		t.Fatalf("expected default target of 48, got %d", rec.TargetHours)
	}
}

func TestLifecyclePauseResumeCompleteConverge(t *testing.T) {
	h, records, _, _ := lifecycleFixture()
	ctx := context.Background()

	if err := h.HandleRequestStarted(ctx, startedEvent("req-3", 48)); err != nil {
		t.Fatalf("start: %v", err)
	}
	pauseEv := Event{Type: "request.paused", Payload: []byte(`{"data":{"request_id":"req-3"}}`)}
	if err := h.HandleRequestPaused(ctx, pauseEv); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// A second paused delivery is a no-op, not an invalid transition.
	if err := h.HandleRequestPaused(ctx, pauseEv); err != nil {
		t.Fatalf("duplicate pause must converge: %v", err)
	}

	resumeEv := Event{Type: "request.resumed", Payload: []byte(`{"data":{"request_id":"req-3"}}`)}
	if err := h.HandleRequestResumed(ctx, resumeEv); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := h.HandleRequestResumed(ctx, resumeEv); err != nil {
		t.Fatalf("duplicate resume must converge: %v", err)
	}

	completeEv := Event{Type: "request.completed", Payload: []byte(`{"data":{"request_id":"req-3"}}`)}
	if err := h.HandleRequestCompleted(ctx, completeEv); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := h.HandleRequestCompleted(ctx, completeEv); err != nil {
		t.Fatalf("duplicate complete must converge: %v", err)
	}

	rec, _ := records.GetSLARecordBySubject(ctx, "req-3")
	if rec.Status != models.SLACompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
}

func TestHandleRequestSubmittedTriages(t *testing.T) {
	h, _, audit, _ := lifecycleFixture()
	ctx := context.Background()

	ev := Event{
		Type:    "request.submitted",
		Payload: []byte(`{"data":{"request_id":"req-4","brief":"new logo for the spring launch"}}`),
	}
	if err := h.HandleRequestSubmitted(ctx, ev); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(audit.rows) != 1 || !strings.Contains(audit.rows[0], "request_triaged") {
		t.Fatalf("expected a triage audit row, got %v", audit.rows)
	}

	bad := Event{Type: "request.submitted", Payload: []byte(`{"data":{}}`)}
	if err := h.HandleRequestSubmitted(ctx, bad); err == nil {
		t.Fatalf("missing request_id must error")
	}
}

func TestHandlePaymentFailedNotifies(t *testing.T) {
	h, _, audit, notifier := lifecycleFixture()
	ctx := context.Background()

	ev := Event{
		Type:    "payment.failed",
		Payload: []byte(`{"data":{"customer_id":"cus-1","invoice_id":"inv-7"}}`),
	}
	if err := h.HandlePaymentFailed(ctx, ev); err != nil {
		t.Fatalf("payment failed handler: %v", err)
	}
	if len(notifier.messages) != 1 || !strings.Contains(notifier.messages[0], "inv-7") {
		t.Fatalf("expected a customer notification, got %v", notifier.messages)
	}
	if len(audit.rows) != 1 || !strings.Contains(audit.rows[0], "payment_failed") {
		t.Fatalf("expected payment audit row, got %v", audit.rows)
	}
}
