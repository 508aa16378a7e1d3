package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chriscarterux/designdream-sub001/internal/models"
	"github.com/chriscarterux/designdream-sub001/internal/sla"
	"github.com/chriscarterux/designdream-sub001/internal/store"
)

// Notifier is the external notification sink (chat/PM tool, email). The
// core only decides when to notify, never how.
type Notifier interface {
	Notify(ctx context.Context, subjectID, message string) error
}

// Analyzer is the external text-classification sink used to triage new
// request briefs.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (string, error)
}

// LogNotifier writes notifications to the log. Stands in when no chat
// integration is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, subjectID, message string) error {
	n.Log.Info().Str("subject_id", subjectID).Str("message", message).Msg("notification")
	return nil
}

// Auditor records audit rows for handler side effects.
type Auditor interface {
	AppendAudit(ctx context.Context, subjectID, event, detail string) error
}

// LifecycleHandlers react to project-tracker webhook events by driving the
// SLA tracker. Every handler is idempotent: re-running one after a crash or
// duplicate delivery converges on the same state instead of erroring.
type LifecycleHandlers struct {
	tracker  *sla.Tracker
	records  sla.Store
	notifier Notifier
	analyzer Analyzer
	audit    Auditor
	// DefaultTargetHours applies when the event payload carries no
	// per-plan SLA allotment.
	defaultTarget int
	log           zerolog.Logger
}

func NewLifecycleHandlers(tracker *sla.Tracker, records sla.Store, notifier Notifier, analyzer Analyzer, audit Auditor, defaultTargetHours int, log zerolog.Logger) *LifecycleHandlers {
	return &LifecycleHandlers{
		tracker:       tracker,
		records:       records,
		notifier:      notifier,
		analyzer:      analyzer,
		audit:         audit,
		defaultTarget: defaultTargetHours,
		log:           log,
	}
}

// RegisterAll binds every handler to its event type.
func (h *LifecycleHandlers) RegisterAll(p *Processor) error {
	bindings := map[string]Handler{
		"request.submitted": h.HandleRequestSubmitted,
		"request.started":   h.HandleRequestStarted,
		"request.paused":    h.HandleRequestPaused,
		"request.resumed":   h.HandleRequestResumed,
		"request.completed": h.HandleRequestCompleted,
		"invoice.paid":      h.HandleInvoicePaid,
		"payment.failed":    h.HandlePaymentFailed,
	}
	for eventType, handler := range bindings {
		if err := p.Register(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

type requestEventData struct {
	Data struct {
		RequestID   string `json:"request_id"`
		TargetHours int    `json:"target_hours"`
		Brief       string `json:"brief"`
	} `json:"data"`
}

func decodeRequestEvent(ev Event) (requestEventData, error) {
	var d requestEventData
	if err := json.Unmarshal(ev.Payload, &d); err != nil {
		return d, fmt.Errorf("decode %s payload: %w", ev.Type, err)
	}
	if d.Data.RequestID == "" {
		return d, fmt.Errorf("%s payload missing request_id", ev.Type)
	}
	return d, nil
}

// HandleRequestSubmitted runs the brief through the analyze sink for triage.
// Classification is advisory: it lands in the audit log, nothing more.
func (h *LifecycleHandlers) HandleRequestSubmitted(ctx context.Context, ev Event) error {
	d, err := decodeRequestEvent(ev)
	if err != nil {
		return err
	}
	if h.analyzer == nil || d.Data.Brief == "" {
		return nil
	}
	category, err := h.analyzer.Analyze(ctx, d.Data.Brief)
	if err != nil {
		return fmt.Errorf("analyze request %s: %w", d.Data.RequestID, err)
	}
	return h.audit.AppendAudit(ctx, d.Data.RequestID, "request_triaged", category)
}

// HandleRequestStarted opens an SLA record when work begins. A duplicate
// delivery finds the existing record and no-ops.
func (h *LifecycleHandlers) HandleRequestStarted(ctx context.Context, ev Event) error {
	d, err := decodeRequestEvent(ev)
	if err != nil {
		return err
	}
	existing, err := h.records.GetSLARecordBySubject(ctx, d.Data.RequestID)
	if err == nil && existing.Status != models.SLACompleted {
		return nil // already tracking
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	target := d.Data.TargetHours
	if target <= 0 {
		target = h.defaultTarget
	}
	rec, err := h.tracker.Start(ctx, d.Data.RequestID, target)
	if err != nil {
		return err
	}
	return h.audit.AppendAudit(ctx, d.Data.RequestID, "sla_started", fmt.Sprintf("record=%s target_hours=%d", rec.ID, target))
}

// HandleRequestPaused freezes the SLA clock, converging when already paused.
func (h *LifecycleHandlers) HandleRequestPaused(ctx context.Context, ev Event) error {
	d, err := decodeRequestEvent(ev)
	if err != nil {
		return err
	}
	rec, err := h.records.GetSLARecordBySubject(ctx, d.Data.RequestID)
	if err != nil {
		return err
	}
	if rec.Status == models.SLAPaused || rec.Status == models.SLACompleted {
		return nil
	}
	if err := h.tracker.Pause(ctx, rec.ID); err != nil {
		return err
	}
	return h.audit.AppendAudit(ctx, d.Data.RequestID, "sla_paused", "paused via webhook")
}

// HandleRequestResumed restarts the SLA clock, converging when already
// active.
func (h *LifecycleHandlers) HandleRequestResumed(ctx context.Context, ev Event) error {
	d, err := decodeRequestEvent(ev)
	if err != nil {
		return err
	}
	rec, err := h.records.GetSLARecordBySubject(ctx, d.Data.RequestID)
	if err != nil {
		return err
	}
	if rec.Status == models.SLAActive || rec.Status == models.SLACompleted {
		return nil
	}
	if err := h.tracker.Resume(ctx, rec.ID); err != nil {
		return err
	}
	return h.audit.AppendAudit(ctx, d.Data.RequestID, "sla_resumed", "resumed via webhook")
}

// HandleRequestCompleted terminally freezes the SLA record.
func (h *LifecycleHandlers) HandleRequestCompleted(ctx context.Context, ev Event) error {
	d, err := decodeRequestEvent(ev)
	if err != nil {
		return err
	}
	rec, err := h.records.GetSLARecordBySubject(ctx, d.Data.RequestID)
	if err != nil {
		return err
	}
	if rec.Status == models.SLACompleted {
		return nil
	}
	if err := h.tracker.Complete(ctx, rec.ID); err != nil {
		return err
	}
	return h.audit.AppendAudit(ctx, d.Data.RequestID, "sla_completed", "completed via webhook")
}

type billingEventData struct {
	Data struct {
		CustomerID string `json:"customer_id"`
		InvoiceID  string `json:"invoice_id"`
		AmountDue  int64  `json:"amount_due"`
	} `json:"data"`
}

// HandleInvoicePaid records the payment in the audit trail. Upsert-free and
// naturally idempotent: the audit row is keyed by invoice in the detail.
func (h *LifecycleHandlers) HandleInvoicePaid(ctx context.Context, ev Event) error {
	var d billingEventData
	if err := json.Unmarshal(ev.Payload, &d); err != nil {
		return fmt.Errorf("decode invoice.paid payload: %w", err)
	}
	if d.Data.CustomerID == "" {
		return fmt.Errorf("invoice.paid payload missing customer_id")
	}
	return h.audit.AppendAudit(ctx, d.Data.CustomerID, "invoice_paid", d.Data.InvoiceID)
}

// HandlePaymentFailed notifies the customer's account channel.
func (h *LifecycleHandlers) HandlePaymentFailed(ctx context.Context, ev Event) error {
	var d billingEventData
	if err := json.Unmarshal(ev.Payload, &d); err != nil {
		return fmt.Errorf("decode payment.failed payload: %w", err)
	}
	if d.Data.CustomerID == "" {
		return fmt.Errorf("payment.failed payload missing customer_id")
	}
	msg := fmt.Sprintf("payment failed for invoice %s", d.Data.InvoiceID)
	if err := h.notifier.Notify(ctx, d.Data.CustomerID, msg); err != nil {
		return fmt.Errorf("notify payment failure: %w", err)
	}
	return h.audit.AppendAudit(ctx, d.Data.CustomerID, "payment_failed", d.Data.InvoiceID)
}
