package webhook

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/chriscarterux/designdream-sub001/internal/models"
	"github.com/chriscarterux/designdream-sub001/internal/store"
	"github.com/chriscarterux/designdream-sub001/internal/telemetry"
)

const (
	// DefaultMaxRetries is the retry budget before a failure is abandoned.
	DefaultMaxRetries = 5
	// DefaultBackoffBase seeds the exponential backoff: base * 2^retry_count.
	DefaultBackoffBase = 5 * time.Minute
	// DefaultBatchLimit bounds how many failures one drive invocation
	// re-runs, to avoid overwhelming downstream handlers.
	DefaultBatchLimit = 10
)

// FailureStore is the dead-letter persistence surface.
type FailureStore interface {
	InsertFailure(ctx context.Context, p store.InsertFailureParams) (bool, error)
	GetFailure(ctx context.Context, id string) (models.FailureRecord, error)
	GetFailureByEvent(ctx context.Context, externalEventID string) (models.FailureRecord, error)
	UpdateFailure(ctx context.Context, id string, retryCount int, nextRetryAt *time.Time, status, errorMessage string) error
	ResolveFailure(ctx context.Context, id string, resolvedAt time.Time) (bool, error)
	ClaimReadyFailures(ctx context.Context, now time.Time, limit int) ([]models.FailureRecord, error)
	ClaimFailureByID(ctx context.Context, id string) (models.FailureRecord, error)
	ListFailures(ctx context.Context) ([]models.FailureRecord, error)
}

// Archiver receives records whose retry budget is exhausted. Archival is
// best-effort: failures are logged, never propagated.
type Archiver interface {
	Archive(ctx context.Context, f models.FailureRecord, abandonedAt time.Time) error
}

// RetryOutcome reports the result of re-driving one failure record.
type RetryOutcome struct {
	FailureID   string     `json:"failure_id"`
	EventID     string     `json:"external_event_id"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Scheduler owns the failure ledger: it records handler failures with
// exponential backoff and re-drives ready records through the processor.
// No background loop runs here; driving is triggered externally.
type Scheduler struct {
	failures   FailureStore
	ledger     Ledger
	processor  *Processor
	maxRetries int
	base       time.Duration
	batchLimit int
	archiver   Archiver
	audit      Auditor
	now        func() time.Time
	log        zerolog.Logger
}

func NewScheduler(failures FailureStore, ledger Ledger, processor *Processor, log zerolog.Logger, now func() time.Time) *Scheduler {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{
		failures:   failures,
		ledger:     ledger,
		processor:  processor,
		maxRetries: DefaultMaxRetries,
		base:       DefaultBackoffBase,
		batchLimit: DefaultBatchLimit,
		now:        now,
		log:        log,
	}
}

// WithLimits overrides the retry budget, backoff base, and drive batch size.
func (s *Scheduler) WithLimits(maxRetries int, base time.Duration, batchLimit int) *Scheduler {
	if maxRetries > 0 {
		s.maxRetries = maxRetries
	}
	if base > 0 {
		s.base = base
	}
	if batchLimit > 0 {
		s.batchLimit = batchLimit
	}
	return s
}

// WithArchiver attaches an archiver for abandoned payloads.
func (s *Scheduler) WithArchiver(a Archiver) *Scheduler {
	s.archiver = a
	return s
}

// WithAuditor records retry outcomes in the audit trail. Best-effort.
func (s *Scheduler) WithAuditor(a Auditor) *Scheduler {
	s.audit = a
	return s
}

// backoffDelay computes base * 2^retryCount.
func (s *Scheduler) backoffDelay(retryCount int) time.Duration {
	return s.base << retryCount
}

// RecordFailure persists a handler failure. The first failure for an event
// creates a pending record with retry_count 0; later failures increment the
// count and push next_retry_at out exponentially. Once the count reaches
// the budget the record is abandoned: next_retry_at null, manual
// intervention only.
func (s *Scheduler) RecordFailure(ctx context.Context, ev Event, reason string, cause error) error {
	now := s.now()
	next := now.Add(s.backoffDelay(0))
	created, err := s.failures.InsertFailure(ctx, store.InsertFailureParams{
		ExternalEventID: ev.ExternalEventID,
		Provider:        ev.Provider,
		EventType:       ev.Type,
		Payload:         ev.Payload,
		FailureReason:   reason,
		ErrorMessage:    cause.Error(),
		MaxRetries:      s.maxRetries,
		NextRetryAt:     next,
	})
	if err != nil {
		return err
	}
	if created {
		s.log.Warn().
			Str("event_id", ev.ExternalEventID).
			Str("event_type", ev.Type).
			Time("next_retry_at", next).
			Msg("event processing failed, retry scheduled")
		return nil
	}

	existing, err := s.failures.GetFailureByEvent(ctx, ev.ExternalEventID)
	if err != nil {
		return err
	}
	return s.recordRepeatFailure(ctx, existing, cause)
}

// recordRepeatFailure applies the increment-and-backoff transition to an
// existing record, abandoning it when the budget is exhausted.
func (s *Scheduler) recordRepeatFailure(ctx context.Context, f models.FailureRecord, cause error) error {
	count := f.RetryCount + 1
	if count >= f.MaxRetries {
		if err := s.failures.UpdateFailure(ctx, f.ID, count, nil, models.FailureAbandoned, cause.Error()); err != nil {
			return err
		}
		telemetry.RetriesAbandoned.Inc()
		s.log.Error().
			Str("event_id", f.ExternalEventID).
			Str("event_type", f.EventType).
			Int("retry_count", count).
			Msg("retry budget exhausted, failure abandoned")
		if s.archiver != nil {
			f.RetryCount = count
			f.ErrorMessage = cause.Error()
			if archErr := s.archiver.Archive(ctx, f, s.now()); archErr != nil {
				s.log.Error().Err(archErr).Str("failure_id", f.ID).Msg("failed to archive abandoned payload")
			}
		}
		if s.audit != nil {
			_ = s.audit.AppendAudit(ctx, f.ExternalEventID, "retry_abandoned", cause.Error())
		}
		return nil
	}

	next := s.now().Add(s.backoffDelay(count))
	if err := s.failures.UpdateFailure(ctx, f.ID, count, &next, models.FailureRetrying, cause.Error()); err != nil {
		return err
	}
	s.log.Warn().
		Str("event_id", f.ExternalEventID).
		Int("retry_count", count).
		Time("next_retry_at", next).
		Msg("retry failed, backing off")
	return nil
}

// Drive claims a bounded batch of ready failures and re-runs each through
// the processor sequentially. Concurrent drivers are safe: the claim moves
// records out of the ready set atomically.
func (s *Scheduler) Drive(ctx context.Context) ([]RetryOutcome, error) {
	claimed, err := s.failures.ClaimReadyFailures(ctx, s.now(), s.batchLimit)
	if err != nil {
		return nil, err
	}
	outcomes := make([]RetryOutcome, 0, len(claimed))
	for _, f := range claimed {
		outcomes = append(outcomes, s.retryOne(ctx, f))
	}
	return outcomes, nil
}

// DriveOne re-runs one specific failure record regardless of its
// next_retry_at, for operator-initiated retries.
func (s *Scheduler) DriveOne(ctx context.Context, failureID string) (RetryOutcome, error) {
	f, err := s.failures.ClaimFailureByID(ctx, failureID)
	if err != nil {
		return RetryOutcome{}, err
	}
	return s.retryOne(ctx, f), nil
}

func (s *Scheduler) retryOne(ctx context.Context, f models.FailureRecord) RetryOutcome {
	telemetry.RetriesDriven.Inc()
	ev := Event{
		ExternalEventID: f.ExternalEventID,
		Provider:        f.Provider,
		Type:            f.EventType,
		Payload:         f.Payload,
	}

	if err := s.processor.Dispatch(ctx, ev); err != nil {
		if recErr := s.recordRepeatFailure(ctx, f, err); recErr != nil {
			s.log.Error().Err(recErr).Str("failure_id", f.ID).Msg("failed to update failure record")
		}
		updated, getErr := s.failures.GetFailure(ctx, f.ID)
		if getErr != nil {
			updated = f
		}
		return RetryOutcome{
			FailureID:   f.ID,
			EventID:     f.ExternalEventID,
			Status:      updated.Status,
			RetryCount:  updated.RetryCount,
			NextRetryAt: updated.NextRetryAt,
			Error:       err.Error(),
		}
	}

	now := s.now()
	if _, err := s.failures.ResolveFailure(ctx, f.ID, now); err != nil {
		s.log.Error().Err(err).Str("failure_id", f.ID).Msg("failed to resolve failure record")
	}
	if err := s.ledger.MarkEventProcessed(ctx, f.ExternalEventID); err != nil {
		s.log.Error().Err(err).Str("event_id", f.ExternalEventID).Msg("failed to mark event processed after retry")
	}
	telemetry.RetriesResolved.Inc()
	if s.audit != nil {
		_ = s.audit.AppendAudit(ctx, f.ExternalEventID, "retry_resolved", f.EventType)
	}
	return RetryOutcome{
		FailureID:  f.ID,
		EventID:    f.ExternalEventID,
		Status:     models.FailureResolved,
		RetryCount: f.RetryCount,
	}
}

// Resolve marks a failure resolved without retrying, for operator override.
func (s *Scheduler) Resolve(ctx context.Context, failureID string) (bool, error) {
	return s.failures.ResolveFailure(ctx, failureID, s.now())
}

// ListFailures returns all failure records for the retry-management API.
func (s *Scheduler) ListFailures(ctx context.Context) ([]models.FailureRecord, error) {
	return s.failures.ListFailures(ctx)
}
