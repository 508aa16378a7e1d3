package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chriscarterux/designdream-sub001/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps pgxpool for Postgres persistence. All cross-request
// coordination happens through these tables; conditional writes carry the
// concurrency guarantees.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies the database connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// --- SLA records ---

// CreateSLARecord inserts a new active record for a subject.
func (s *Store) CreateSLARecord(ctx context.Context, subjectID string, targetHours int, startedAt time.Time) (models.SLARecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sla_records (id, subject_id, status, started_at, target_hours, notified_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, subjectID, models.SLAActive, startedAt, targetHours, models.WarningNone, now)
	if err != nil {
		return models.SLARecord{}, fmt.Errorf("insert sla record: %w", err)
	}
	return models.SLARecord{
		ID:            id,
		SubjectID:     subjectID,
		Status:        models.SLAActive,
		StartedAt:     startedAt,
		TargetHours:   targetHours,
		NotifiedLevel: models.WarningNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

const slaColumns = `id, subject_id, status, started_at, target_hours, paused_at, pause_duration_hours, completed_at, notified_level, created_at, updated_at`

func scanSLARecord(row pgx.Row) (models.SLARecord, error) {
	var rec models.SLARecord
	var pausedAt, completedAt pgtype.Timestamptz
	var level string
	err := row.Scan(&rec.ID, &rec.SubjectID, &rec.Status, &rec.StartedAt, &rec.TargetHours,
		&pausedAt, &rec.PauseDurationHours, &completedAt, &level, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SLARecord{}, ErrNotFound
		}
		return models.SLARecord{}, fmt.Errorf("scan sla record: %w", err)
	}
	rec.PausedAt = tsPtr(pausedAt)
	rec.CompletedAt = tsPtr(completedAt)
	rec.NotifiedLevel = models.WarningLevel(level)
	return rec, nil
}

// GetSLARecord fetches a record by id.
func (s *Store) GetSLARecord(ctx context.Context, id string) (models.SLARecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+slaColumns+` FROM sla_records WHERE id = $1`, id)
	return scanSLARecord(row)
}

// GetSLARecordBySubject fetches the most recent record for a subject.
// Older records are retained for audit.
func (s *Store) GetSLARecordBySubject(ctx context.Context, subjectID string) (models.SLARecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+slaColumns+` FROM sla_records
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, subjectID)
	return scanSLARecord(row)
}

// PauseSLARecord freezes an active record. The status guard makes the write
// race-safe: the loser of a concurrent pause sees false.
func (s *Store) PauseSLARecord(ctx context.Context, id string, pausedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sla_records
		SET status = $2, paused_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.SLAPaused, pausedAt, models.SLAActive)
	if err != nil {
		return false, fmt.Errorf("pause sla record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResumeSLARecord reactivates a paused record, folding the paused interval
// into pause_duration_hours.
func (s *Store) ResumeSLARecord(ctx context.Context, id string, pausedHours int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sla_records
		SET status = $2, paused_at = NULL, pause_duration_hours = pause_duration_hours + $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.SLAActive, pausedHours, models.SLAPaused)
	if err != nil {
		return false, fmt.Errorf("resume sla record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteSLARecord terminally freezes a record from Active or Paused.
func (s *Store) CompleteSLARecord(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sla_records
		SET status = $2, paused_at = NULL, completed_at = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, models.SLACompleted, completedAt, models.SLAActive, models.SLAPaused)
	if err != nil {
		return false, fmt.Errorf("complete sla record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetNotifiedLevel claims a warning-level notification. The guard means at
// most one caller wins per level change.
func (s *Store) SetNotifiedLevel(ctx context.Context, id string, level models.WarningLevel) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sla_records
		SET notified_level = $2, updated_at = NOW()
		WHERE id = $1 AND notified_level <> $2
	`, id, level)
	if err != nil {
		return false, fmt.Errorf("set notified level: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Idempotency ledger ---

// InsertEvent records an inbound event once. Returns created=false when the
// external event id was already seen; the unique constraint makes the
// check-and-insert atomic under concurrent duplicate delivery.
func (s *Store) InsertEvent(ctx context.Context, externalEventID, provider, eventType string, payload json.RawMessage) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO inbound_events (external_event_id, provider, event_type, payload, processed, received_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
		ON CONFLICT (external_event_id) DO NOTHING
	`, externalEventID, provider, eventType, payload)
	if err != nil {
		return false, fmt.Errorf("insert inbound event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetEvent fetches a ledger row by external event id.
func (s *Store) GetEvent(ctx context.Context, externalEventID string) (models.InboundEvent, error) {
	var ev models.InboundEvent
	err := s.pool.QueryRow(ctx, `
		SELECT external_event_id, provider, event_type, payload, processed, received_at
		FROM inbound_events WHERE external_event_id = $1
	`, externalEventID).Scan(&ev.ExternalEventID, &ev.Provider, &ev.EventType, &ev.Payload, &ev.Processed, &ev.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.InboundEvent{}, ErrNotFound
	}
	if err != nil {
		return models.InboundEvent{}, fmt.Errorf("query inbound event: %w", err)
	}
	return ev, nil
}

// MarkEventProcessed flips the ledger flag after a successful dispatch.
func (s *Store) MarkEventProcessed(ctx context.Context, externalEventID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE inbound_events SET processed = TRUE WHERE external_event_id = $1
	`, externalEventID)
	return err
}

// --- Failure ledger ---

// InsertFailureParams collects inputs for the first failure of an event.
type InsertFailureParams struct {
	ExternalEventID string
	Provider        string
	EventType       string
	Payload         json.RawMessage
	FailureReason   string
	ErrorMessage    string
	MaxRetries      int
	NextRetryAt     time.Time
}

// InsertFailure creates the dead-letter row for an event's first failure.
// Returns created=false when a row already exists (concurrent first
// failures); the caller then updates the existing row instead.
func (s *Store) InsertFailure(ctx context.Context, p InsertFailureParams) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO failure_records (id, external_event_id, provider, event_type, payload, failure_reason, error_message, retry_count, max_retries, next_retry_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
		ON CONFLICT (external_event_id) DO NOTHING
	`, uuid.New().String(), p.ExternalEventID, p.Provider, p.EventType, p.Payload, p.FailureReason, p.ErrorMessage, p.MaxRetries, p.NextRetryAt, models.FailurePending)
	if err != nil {
		return false, fmt.Errorf("insert failure record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateFailure applies a retry outcome: new count, backoff timing, status
// and error detail. nextRetryAt is nil when the record is abandoned.
func (s *Store) UpdateFailure(ctx context.Context, id string, retryCount int, nextRetryAt *time.Time, status, errorMessage string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE failure_records
		SET retry_count = $2, next_retry_at = $3, status = $4, error_message = $5, updated_at = NOW()
		WHERE id = $1
	`, id, retryCount, nextRetryAt, status, errorMessage)
	return err
}

// ResolveFailure marks a record resolved, either after a successful retry or
// by operator override. Terminal.
func (s *Store) ResolveFailure(ctx context.Context, id string, resolvedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE failure_records
		SET status = $2, resolved_at = $3, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> $2
	`, id, models.FailureResolved, resolvedAt)
	if err != nil {
		return false, fmt.Errorf("resolve failure: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const failureColumns = `id, external_event_id, provider, event_type, payload, failure_reason, error_message, retry_count, max_retries, next_retry_at, status, resolved_at, created_at, updated_at`

func scanFailure(row pgx.Row) (models.FailureRecord, error) {
	var f models.FailureRecord
	var nextRetry, resolvedAt pgtype.Timestamptz
	err := row.Scan(&f.ID, &f.ExternalEventID, &f.Provider, &f.EventType, &f.Payload, &f.FailureReason,
		&f.ErrorMessage, &f.RetryCount, &f.MaxRetries, &nextRetry, &f.Status, &resolvedAt, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FailureRecord{}, ErrNotFound
		}
		return models.FailureRecord{}, fmt.Errorf("scan failure record: %w", err)
	}
	f.NextRetryAt = tsPtr(nextRetry)
	f.ResolvedAt = tsPtr(resolvedAt)
	return f, nil
}

// GetFailure fetches a failure record by id.
func (s *Store) GetFailure(ctx context.Context, id string) (models.FailureRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+failureColumns+` FROM failure_records WHERE id = $1`, id)
	return scanFailure(row)
}

// GetFailureByEvent fetches the failure record for an external event id.
func (s *Store) GetFailureByEvent(ctx context.Context, externalEventID string) (models.FailureRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+failureColumns+` FROM failure_records WHERE external_event_id = $1`, externalEventID)
	return scanFailure(row)
}

// ClaimReadyFailures atomically claims up to limit records that are due for
// retry, moving them to retrying so concurrent drivers cannot pick the same
// row. FOR UPDATE SKIP LOCKED keeps parallel invocations from blocking.
func (s *Store) ClaimReadyFailures(ctx context.Context, now time.Time, limit int) ([]models.FailureRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	rows, err := tx.Query(ctx, `
		SELECT `+failureColumns+` FROM failure_records
		WHERE status IN ($1, $2) AND (next_retry_at IS NULL OR next_retry_at <= $3)
		ORDER BY next_retry_at NULLS FIRST
		FOR UPDATE SKIP LOCKED
		LIMIT $4
	`, models.FailurePending, models.FailureRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select ready failures: %w", err)
	}
	claimed := make([]models.FailureRecord, 0, limit)
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ready failures: %w", err)
	}

	for _, f := range claimed {
		if _, err := tx.Exec(ctx, `
			UPDATE failure_records SET status = $2, updated_at = NOW() WHERE id = $1
		`, f.ID, models.FailureRetrying); err != nil {
			return nil, fmt.Errorf("claim failure %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return claimed, nil
}

// ClaimFailureByID claims one specific non-terminal record for a manual
// retry, ignoring next_retry_at.
func (s *Store) ClaimFailureByID(ctx context.Context, id string) (models.FailureRecord, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE failure_records SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($2, $3)
	`, id, models.FailureRetrying, models.FailurePending)
	if err != nil {
		return models.FailureRecord{}, fmt.Errorf("claim failure by id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.FailureRecord{}, ErrNotFound
	}
	return s.GetFailure(ctx, id)
}

// ListFailures returns every failure record, newest first. The API layer
// partitions them into ready, awaiting, and abandoned buckets.
func (s *Store) ListFailures(ctx context.Context) ([]models.FailureRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+failureColumns+` FROM failure_records ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var out []models.FailureRecord
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, subjectID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (subject_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, subjectID, event, detail)
	return err
}

func tsPtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
