package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/chriscarterux/designdream-sub001/internal/config"
	"github.com/chriscarterux/designdream-sub001/internal/models"
	"github.com/chriscarterux/designdream-sub001/internal/sla"
	"github.com/chriscarterux/designdream-sub001/internal/store"
	"github.com/chriscarterux/designdream-sub001/internal/telemetry"
	"github.com/chriscarterux/designdream-sub001/internal/webhook"
)

// maxBodyBytes caps webhook payload size before signature verification.
const maxBodyBytes = 1 << 20

// Ingestor runs the verified-delivery pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, provider, externalEventID string, body []byte) (webhook.Result, error)
}

// RetryManager exposes the failure-ledger operations behind /webhooks/retry.
type RetryManager interface {
	Drive(ctx context.Context) ([]webhook.RetryOutcome, error)
	DriveOne(ctx context.Context, failureID string) (webhook.RetryOutcome, error)
	Resolve(ctx context.Context, failureID string) (bool, error)
	ListFailures(ctx context.Context) ([]models.FailureRecord, error)
}

// Limiter sheds webhook floods per provider. Nil disables limiting.
type Limiter interface {
	AllowProvider(ctx context.Context, provider string) (bool, error)
}

// Pinger reports backing-store health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the webhook ingress, retry management, and SLA endpoints.
type Server struct {
	cfg      config.Config
	verifier *webhook.Verifier
	ingestor Ingestor
	retries  RetryManager
	tracker  *sla.Tracker
	notifier webhook.Notifier
	limiter  Limiter
	pinger   Pinger
	now      func() time.Time
	log      zerolog.Logger
}

// New constructs the API server. limiter and pinger may be nil.
func New(cfg config.Config, verifier *webhook.Verifier, ingestor Ingestor, retries RetryManager, tracker *sla.Tracker, notifier webhook.Notifier, limiter Limiter, pinger Pinger, log zerolog.Logger, now func() time.Time) *Server {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Server{
		cfg:      cfg,
		verifier: verifier,
		ingestor: ingestor,
		retries:  retries,
		tracker:  tracker,
		notifier: notifier,
		limiter:  limiter,
		pinger:   pinger,
		now:      now,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/webhooks/{provider}", s.handleWebhook)
	r.Get("/webhooks/retry", s.handleListRetries)
	r.Post("/webhooks/retry", s.handleDriveRetries)
	r.Delete("/webhooks/retry", s.handleResolveRetry)

	r.Post("/sla", s.handleStartSLA)
	r.Post("/sla/{id}/pause", s.handlePauseSLA)
	r.Post("/sla/{id}/resume", s.handleResumeSLA)
	r.Post("/sla/{id}/complete", s.handleCompleteSLA)
	r.Get("/sla/{subject_id}", s.handleEvaluateSLA)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type webhookResponse struct {
	Received  bool `json:"received"`
	Processed bool `json:"processed"`
}

// handleWebhook is the signed ingress: rate limit, signature, then the
// idempotent pipeline. A processing error answers 500 so the provider
// redelivers; the ledger makes that safe.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	if s.limiter != nil {
		allowed, err := s.limiter.AllowProvider(r.Context(), provider)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	tsHeader := r.Header.Get("X-Webhook-Timestamp")
	sigHeader := r.Header.Get("X-Webhook-Signature")
	if err := s.verifier.Verify(provider, tsHeader, sigHeader, body); err != nil {
		telemetry.SignatureRejects.Inc()
		s.log.Warn().Err(err).Str("provider", provider).Msg("webhook rejected")
		if errors.Is(err, webhook.ErrInvalidSignature) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	eventID := eventIDFromRequest(r, body)
	if eventID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	res, err := s.ingestor.Ingest(r.Context(), provider, eventID, body)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidBody) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "event processing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{Received: true, Processed: res.Processed})
}

// eventIDFromRequest prefers the delivery header and falls back to a
// top-level id field in the payload.
func eventIDFromRequest(r *http.Request, body []byte) string {
	if v := r.Header.Get("X-Webhook-Event-Id"); v != "" {
		return v
	}
	var env struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &env)
	return env.ID
}

type retryListing struct {
	ReadyForRetry []models.FailureRecord `json:"readyForRetry"`
	Awaiting      []models.FailureRecord `json:"awaiting"`
	Abandoned     []models.FailureRecord `json:"abandoned"`
}

// handleListRetries partitions failure records by due time, with abandoned
// records in their own bucket. Resolved records drop out of the listing.
func (s *Server) handleListRetries(w http.ResponseWriter, r *http.Request) {
	all, err := s.retries.ListFailures(r.Context())
	if err != nil {
		http.Error(w, "failed to list failures", http.StatusInternalServerError)
		return
	}
	now := s.now()
	listing := retryListing{
		ReadyForRetry: []models.FailureRecord{},
		Awaiting:      []models.FailureRecord{},
		Abandoned:     []models.FailureRecord{},
	}
	for _, f := range all {
		switch {
		case f.Status == models.FailureResolved:
		case f.Status == models.FailureAbandoned:
			listing.Abandoned = append(listing.Abandoned, f)
		case f.NextRetryAt == nil || !f.NextRetryAt.After(now):
			listing.ReadyForRetry = append(listing.ReadyForRetry, f)
		default:
			listing.Awaiting = append(listing.Awaiting, f)
		}
	}
	writeJSON(w, http.StatusOK, listing)
}

type driveRequest struct {
	FailureID string `json:"failureId"`
	RetryAll  bool   `json:"retryAll"`
}

func (s *Server) handleDriveRetries(w http.ResponseWriter, r *http.Request) {
	var req driveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	switch {
	case req.RetryAll:
		outcomes, err := s.retries.Drive(r.Context())
		if err != nil {
			http.Error(w, "retry drive failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
	case req.FailureID != "":
		outcome, err := s.retries.DriveOne(r.Context(), req.FailureID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "failure not found or not retryable", http.StatusNotFound)
				return
			}
			http.Error(w, "retry failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"outcomes": []webhook.RetryOutcome{outcome}})
	default:
		http.Error(w, "failureId or retryAll is required", http.StatusBadRequest)
	}
}

func (s *Server) handleResolveRetry(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	ok, err := s.retries.Resolve(r.Context(), id)
	if err != nil {
		http.Error(w, "resolve failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "failure not found or already terminal", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.FailureResolved})
}

type startSLARequest struct {
	SubjectID   string `json:"subject_id"`
	TargetHours int    `json:"target_hours"`
}

func (s *Server) handleStartSLA(w http.ResponseWriter, r *http.Request) {
	var req startSLARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.SubjectID == "" {
		http.Error(w, "subject_id is required", http.StatusBadRequest)
		return
	}
	if req.TargetHours <= 0 {
		req.TargetHours = s.cfg.SLATargetHours
	}
	rec, err := s.tracker.Start(r.Context(), req.SubjectID, req.TargetHours)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePauseSLA(w http.ResponseWriter, r *http.Request) {
	s.transitionSLA(w, r, s.tracker.Pause)
}

func (s *Server) handleResumeSLA(w http.ResponseWriter, r *http.Request) {
	s.transitionSLA(w, r, s.tracker.Resume)
}

func (s *Server) handleCompleteSLA(w http.ResponseWriter, r *http.Request) {
	s.transitionSLA(w, r, s.tracker.Complete)
}

// transitionSLA runs one lifecycle transition and maps sentinel errors to
// HTTP statuses: unknown record 404, invalid transition 409.
func (s *Server) transitionSLA(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "sla record not found", http.StatusNotFound)
		case errors.Is(err, sla.ErrNotActive), errors.Is(err, sla.ErrNotPaused), errors.Is(err, sla.ErrCompleted):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "sla transition failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type evaluationResponse struct {
	Record     models.SLARecord     `json:"record"`
	Evaluation models.SLAEvaluation `json:"evaluation"`
}

// handleEvaluateSLA computes the read-side tuple for a subject and fires
// threshold notifications at most once per level crossing.
func (s *Server) handleEvaluateSLA(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subject_id")
	rec, eval, err := s.tracker.EvaluateSubject(r.Context(), subjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "no sla record for subject", http.StatusNotFound)
			return
		}
		http.Error(w, "evaluation failed", http.StatusInternalServerError)
		return
	}

	if eval.WarningLevel != models.WarningNone {
		s.notifyThreshold(r.Context(), rec, eval)
	}
	writeJSON(w, http.StatusOK, evaluationResponse{Record: rec, Evaluation: eval})
}

func (s *Server) notifyThreshold(ctx context.Context, rec models.SLARecord, eval models.SLAEvaluation) {
	claimed, err := s.tracker.ClaimWarningTransition(ctx, rec, eval.WarningLevel)
	if err != nil {
		s.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to claim warning transition")
		return
	}
	if !claimed {
		return
	}
	switch eval.WarningLevel {
	case models.WarningRed:
		telemetry.SLAViolations.Inc()
	default:
		telemetry.SLAWarnings.Inc()
	}
	if s.notifier == nil {
		return
	}
	msg := fmt.Sprintf("SLA %s: %d business hours remaining of %d", eval.WarningLevel, eval.HoursRemaining, rec.TargetHours)
	if err := s.notifier.Notify(ctx, rec.SubjectID, msg); err != nil {
		s.log.Error().Err(err).Str("subject_id", rec.SubjectID).Msg("threshold notification failed")
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
