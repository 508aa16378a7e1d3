package models

import (
	"encoding/json"
	"time"
)

// WarningLevel classifies how urgent an SLA record is.
type WarningLevel string

const (
	WarningNone   WarningLevel = "none"
	WarningYellow WarningLevel = "yellow"
	WarningRed    WarningLevel = "red"
)

// SLARecord states persisted in Postgres. Violation is derived from hours
// remaining, not stored as a state of its own.
const (
	SLAActive    = "active"
	SLAPaused    = "paused"
	SLACompleted = "completed"
)

// SLARecord tracks business-hour consumption for one unit of work.
// Source of truth is started_at, target_hours, paused_at and
// pause_duration_hours; everything else is recomputed on read.
type SLARecord struct {
	ID                 string       `json:"id"`
	SubjectID          string       `json:"subject_id"`
	Status             string       `json:"status"`
	StartedAt          time.Time    `json:"started_at"`
	TargetHours        int          `json:"target_hours"`
	PausedAt           *time.Time   `json:"paused_at,omitempty"`
	PauseDurationHours int          `json:"pause_duration_hours"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	NotifiedLevel      WarningLevel `json:"notified_level"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// SLAEvaluation is the read-side tuple computed by the tracker.
type SLAEvaluation struct {
	BusinessHoursElapsed int          `json:"business_hours_elapsed"`
	HoursRemaining       int          `json:"hours_remaining"`
	PercentageComplete   float64      `json:"percentage_complete"`
	WarningLevel         WarningLevel `json:"warning_level"`
	EstimatedCompletion  *time.Time   `json:"estimated_completion,omitempty"`
}

// InboundEvent is one row of the idempotency ledger. At most one row exists
// per external event ID; processed rows are never re-run through the normal
// ingestion path.
type InboundEvent struct {
	ExternalEventID string          `json:"external_event_id"`
	Provider        string          `json:"provider"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	Processed       bool            `json:"processed"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// FailureRecord statuses. Abandoned and resolved are terminal.
const (
	FailurePending   = "pending"
	FailureRetrying  = "retrying"
	FailureResolved  = "resolved"
	FailureAbandoned = "abandoned"
)

// FailureRecord is a dead-letter entry for an event whose handler failed.
// One row per external event; repeat failures update it in place.
type FailureRecord struct {
	ID              string          `json:"id"`
	ExternalEventID string          `json:"external_event_id"`
	Provider        string          `json:"provider"`
	EventType       string          `json:"event_type"`
	Payload         json.RawMessage `json:"payload"`
	FailureReason   string          `json:"failure_reason"`
	ErrorMessage    string          `json:"error_message"`
	RetryCount      int             `json:"retry_count"`
	MaxRetries      int             `json:"max_retries"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	Status          string          `json:"status"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	SubjectID string    `json:"subject_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
	Recorded  time.Time `json:"recorded_at"`
}
