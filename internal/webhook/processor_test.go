package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testProcessor() *Processor {
	return NewProcessor(5*time.Second, zerolog.Nop())
}

func TestDispatchRoutesByType(t *testing.T) {
	p := testProcessor()
	var got Event
	p.MustRegister("request.started", func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})
	p.MustRegister("request.completed", func(_ context.Context, _ Event) error {
		t.Fatalf("wrong handler invoked")
		return nil
	})

	ev := Event{ExternalEventID: "evt-1", Type: "request.started", Payload: json.RawMessage(`{}`)}
	if err := p.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.ExternalEventID != "evt-1" {
		t.Fatalf("handler did not receive the event")
	}
}

func TestDispatchUnknownTypeIsNoOp(t *testing.T) {
	p := testProcessor()
	ev := Event{ExternalEventID: "evt-2", Type: "provider.ping", Payload: json.RawMessage(`{}`)}
	if err := p.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("unknown event types must be accepted, got %v", err)
	}
}

func TestDispatchWrapsHandlerError(t *testing.T) {
	p := testProcessor()
	boom := errors.New("downstream unavailable")
	p.MustRegister("invoice.paid", func(_ context.Context, _ Event) error { return boom })

	err := p.Dispatch(context.Background(), Event{ExternalEventID: "evt-3", Type: "invoice.paid"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	p := testProcessor()
	if err := p.Register("", func(context.Context, Event) error { return nil }); err == nil {
		t.Fatalf("expected error for empty event type")
	}
	if err := p.Register("x", nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
	if err := p.Register("x", func(context.Context, Event) error { return nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.Register("x", func(context.Context, Event) error { return nil }); err == nil {
		t.Fatalf("expected error for duplicate registration")
	}
}

func TestDispatchEnforcesTimeout(t *testing.T) {
	p := NewProcessor(10*time.Millisecond, zerolog.Nop())
	p.MustRegister("slow.event", func(ctx context.Context, _ Event) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	err := p.Dispatch(context.Background(), Event{ExternalEventID: "evt-4", Type: "slow.event"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
