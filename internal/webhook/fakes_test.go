package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chriscarterux/designdream-sub001/internal/models"
	"github.com/chriscarterux/designdream-sub001/internal/store"
)

type fakeLedger struct {
	events map[string]*models.InboundEvent
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{events: make(map[string]*models.InboundEvent)}
}

func (f *fakeLedger) InsertEvent(_ context.Context, id, provider, eventType string, payload json.RawMessage) (bool, error) {
	if _, exists := f.events[id]; exists {
		return false, nil
	}
	f.events[id] = &models.InboundEvent{
		ExternalEventID: id,
		Provider:        provider,
		EventType:       eventType,
		Payload:         payload,
		ReceivedAt:      time.Now().UTC(),
	}
	return true, nil
}

func (f *fakeLedger) GetEvent(_ context.Context, id string) (models.InboundEvent, error) {
	ev, ok := f.events[id]
	if !ok {
		return models.InboundEvent{}, store.ErrNotFound
	}
	return *ev, nil
}

func (f *fakeLedger) MarkEventProcessed(_ context.Context, id string) error {
	ev, ok := f.events[id]
	if !ok {
		return store.ErrNotFound
	}
	ev.Processed = true
	return nil
}

type fakeFailures struct {
	byID    map[string]*models.FailureRecord
	byEvent map[string]string
	nextID  int
}

func newFakeFailures() *fakeFailures {
	return &fakeFailures{byID: make(map[string]*models.FailureRecord), byEvent: make(map[string]string)}
}

func (f *fakeFailures) InsertFailure(_ context.Context, p store.InsertFailureParams) (bool, error) {
	if _, exists := f.byEvent[p.ExternalEventID]; exists {
		return false, nil
	}
	f.nextID++
	id := fmt.Sprintf("failure-%d", f.nextID)
	next := p.NextRetryAt
	f.byID[id] = &models.FailureRecord{
		ID:              id,
		ExternalEventID: p.ExternalEventID,
		Provider:        p.Provider,
		EventType:       p.EventType,
		Payload:         p.Payload,
		FailureReason:   p.FailureReason,
		ErrorMessage:    p.ErrorMessage,
		MaxRetries:      p.MaxRetries,
		NextRetryAt:     &next,
		Status:          models.FailurePending,
	}
	f.byEvent[p.ExternalEventID] = id
	return true, nil
}

func (f *fakeFailures) GetFailure(_ context.Context, id string) (models.FailureRecord, error) {
	rec, ok := f.byID[id]
	if !ok {
		return models.FailureRecord{}, store.ErrNotFound
	}
	return *rec, nil
}

func (f *fakeFailures) GetFailureByEvent(_ context.Context, eventID string) (models.FailureRecord, error) {
	id, ok := f.byEvent[eventID]
	if !ok {
		return models.FailureRecord{}, store.ErrNotFound
	}
	return *f.byID[id], nil
}

func (f *fakeFailures) UpdateFailure(_ context.Context, id string, retryCount int, nextRetryAt *time.Time, status, errorMessage string) error {
	rec, ok := f.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.RetryCount = retryCount
	rec.NextRetryAt = nextRetryAt
	rec.Status = status
	rec.ErrorMessage = errorMessage
	return nil
}

func (f *fakeFailures) ResolveFailure(_ context.Context, id string, resolvedAt time.Time) (bool, error) {
	rec, ok := f.byID[id]
	if !ok || rec.Status == models.FailureResolved {
		return false, nil
	}
	rec.Status = models.FailureResolved
	rec.ResolvedAt = &resolvedAt
	rec.NextRetryAt = nil
	return true, nil
}

func (f *fakeFailures) ClaimReadyFailures(_ context.Context, now time.Time, limit int) ([]models.FailureRecord, error) {
	var claimed []models.FailureRecord
	for _, rec := range f.byID {
		if len(claimed) >= limit {
			break
		}
		if rec.Status != models.FailurePending && rec.Status != models.FailureRetrying {
			continue
		}
		if rec.NextRetryAt != nil && rec.NextRetryAt.After(now) {
			continue
		}
		rec.Status = models.FailureRetrying
		claimed = append(claimed, *rec)
	}
	return claimed, nil
}

func (f *fakeFailures) ClaimFailureByID(_ context.Context, id string) (models.FailureRecord, error) {
	rec, ok := f.byID[id]
	if !ok || (rec.Status != models.FailurePending && rec.Status != models.FailureRetrying) {
		return models.FailureRecord{}, store.ErrNotFound
	}
	rec.Status = models.FailureRetrying
	return *rec, nil
}

func (f *fakeFailures) ListFailures(_ context.Context) ([]models.FailureRecord, error) {
	out := make([]models.FailureRecord, 0, len(f.byID))
	for _, rec := range f.byID {
		out = append(out, *rec)
	}
	return out, nil
}
