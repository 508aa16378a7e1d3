package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chriscarterux/designdream-sub001/internal/telemetry"
)

// Event is a validated inbound event handed to a handler.
type Event struct {
	ExternalEventID string
	Provider        string
	Type            string
	Payload         json.RawMessage
}

// Handler processes one event type. Handlers run at-least-once: the ledger
// mark and the handler execution are not a single transaction, so a crash
// between them re-runs the handler on the provider's retry. Handlers must
// therefore be idempotent (upsert by subject id, not insert).
type Handler func(ctx context.Context, ev Event) error

// Processor dispatches an event to exactly one registered handler by type.
type Processor struct {
	handlers map[string]Handler
	timeout  time.Duration
	log      zerolog.Logger
}

func NewProcessor(timeout time.Duration, log zerolog.Logger) *Processor {
	return &Processor{
		handlers: make(map[string]Handler),
		timeout:  timeout,
		log:      log,
	}
}

// Register binds a handler to an event type. Registration is validated at
// startup: a blank type, nil handler, or duplicate binding is a programming
// error and fails fast.
func (p *Processor) Register(eventType string, h Handler) error {
	if eventType == "" {
		return fmt.Errorf("register handler: empty event type")
	}
	if h == nil {
		return fmt.Errorf("register handler %q: nil handler", eventType)
	}
	if _, exists := p.handlers[eventType]; exists {
		return fmt.Errorf("register handler %q: already registered", eventType)
	}
	p.handlers[eventType] = h
	return nil
}

// MustRegister is Register for wiring code in main.
func (p *Processor) MustRegister(eventType string, h Handler) {
	if err := p.Register(eventType, h); err != nil {
		panic(err)
	}
}

// Dispatch runs the handler registered for the event's type, bounded by the
// processor timeout. Unknown event types are a successful no-op: providers
// send many irrelevant types and rejecting them only causes provider-side
// retries.
func (p *Processor) Dispatch(ctx context.Context, ev Event) error {
	h, ok := p.handlers[ev.Type]
	if !ok {
		telemetry.EventsUnknownType.Inc()
		p.log.Info().
			Str("event_id", ev.ExternalEventID).
			Str("event_type", ev.Type).
			Msg("no handler for event type, accepting as no-op")
		return nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := h(ctx, ev); err != nil {
		telemetry.HandlerFailures.Inc()
		return fmt.Errorf("handle %s event %s: %w", ev.Type, ev.ExternalEventID, err)
	}
	return nil
}
