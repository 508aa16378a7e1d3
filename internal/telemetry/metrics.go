package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EventsReceived    = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_events_received_total", Help: "Inbound webhook deliveries accepted"})
	EventsSkipped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_events_skipped_total", Help: "Duplicate deliveries short-circuited by the idempotency ledger"})
	EventsUnknownType = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_events_unknown_type_total", Help: "Events with no registered handler, accepted as no-ops"})
	HandlerFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_handler_failures_total", Help: "Handler executions that failed"})
	SignatureRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_signature_rejects_total", Help: "Deliveries rejected for a bad signature"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_rate_limit_rejects_total", Help: "Deliveries rejected by the provider rate limiter"})
	RetriesDriven     = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_retries_driven_total", Help: "Failure records re-driven through the processor"})
	RetriesResolved   = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_retries_resolved_total", Help: "Failure records resolved by a successful retry"})
	RetriesAbandoned  = prometheus.NewCounter(prometheus.CounterOpts{Name: "webhook_retries_abandoned_total", Help: "Failure records abandoned after exhausting the retry budget"})
	SLAWarnings       = prometheus.NewCounter(prometheus.CounterOpts{Name: "sla_warnings_total", Help: "SLA warning notifications claimed"})
	SLAViolations     = prometheus.NewCounter(prometheus.CounterOpts{Name: "sla_violations_total", Help: "SLA violation notifications claimed"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EventsReceived,
			EventsSkipped,
			EventsUnknownType,
			HandlerFailures,
			SignatureRejects,
			RateLimitRejects,
			RetriesDriven,
			RetriesResolved,
			RetriesAbandoned,
			SLAWarnings,
			SLAViolations,
		)
	})
	return promhttp.Handler()
}
