package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chriscarterux/designdream-sub001/internal/models"
	"github.com/chriscarterux/designdream-sub001/internal/telemetry"
)

// ErrInvalidBody flags a payload that is not a JSON object with a type.
// Unauthenticated garbage is rejected outright, never persisted as a
// retryable failure.
var ErrInvalidBody = errors.New("invalid event body")

// Ledger is the idempotency store: at most one row per external event id,
// with an atomic conditional insert.
type Ledger interface {
	InsertEvent(ctx context.Context, externalEventID, provider, eventType string, payload json.RawMessage) (bool, error)
	GetEvent(ctx context.Context, externalEventID string) (models.InboundEvent, error)
	MarkEventProcessed(ctx context.Context, externalEventID string) error
}

// Result reports what ingestion did with a delivery.
type Result struct {
	Processed bool `json:"processed"`
	Skipped   bool `json:"skipped"`
}

// Ingestor runs the verified-delivery pipeline: ledger check, dispatch,
// ledger mark on success, failure record on error.
type Ingestor struct {
	ledger    Ledger
	processor *Processor
	retries   *Scheduler
	log       zerolog.Logger
}

func NewIngestor(ledger Ledger, processor *Processor, retries *Scheduler, log zerolog.Logger) *Ingestor {
	return &Ingestor{ledger: ledger, processor: processor, retries: retries, log: log}
}

type eventEnvelope struct {
	Type string `json:"type"`
}

// Ingest handles one authenticated delivery. A duplicate of an already
// processed event returns Skipped without touching the handler. A handler
// failure is persisted to the failure ledger and returned so the transport
// can answer 500, which triggers the provider's own retry.
func (i *Ingestor) Ingest(ctx context.Context, provider, externalEventID string, body []byte) (Result, error) {
	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, ErrInvalidBody
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return Result{}, ErrInvalidBody
	}

	created, err := i.ledger.InsertEvent(ctx, externalEventID, provider, env.Type, body)
	if err != nil {
		return Result{}, err
	}
	if !created {
		existing, err := i.ledger.GetEvent(ctx, externalEventID)
		if err != nil {
			return Result{}, err
		}
		if existing.Processed {
			telemetry.EventsSkipped.Inc()
			i.log.Info().
				Str("event_id", externalEventID).
				Str("provider", provider).
				Msg("duplicate delivery skipped")
			return Result{Skipped: true}, nil
		}
		// Row exists but was never marked processed: an earlier attempt
		// failed mid-flight. Fall through and run the handler again; that
		// is the documented at-least-once boundary.
	}
	telemetry.EventsReceived.Inc()

	ev := Event{
		ExternalEventID: externalEventID,
		Provider:        provider,
		Type:            env.Type,
		Payload:         body,
	}
	if err := i.processor.Dispatch(ctx, ev); err != nil {
		if recErr := i.retries.RecordFailure(ctx, ev, "handler_error", err); recErr != nil {
			i.log.Error().Err(recErr).
				Str("event_id", externalEventID).
				Msg("failed to persist failure record")
		}
		return Result{}, err
	}

	if err := i.ledger.MarkEventProcessed(ctx, externalEventID); err != nil {
		return Result{}, err
	}
	return Result{Processed: true}, nil
}
