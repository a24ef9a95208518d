// Package metrics exposes pipeline counters for operational tooling.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_webhooks_total",
			Help: "Webhook deliveries by outcome (stored, duplicate, ignored, rejected, failed).",
		},
		[]string{"outcome"},
	)

	BatchesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_batches_total",
			Help: "Debounced batches by outcome (replied, fallback, skipped, failed).",
		},
		[]string{"outcome"},
	)

	ClaimConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_debounce_claim_conflicts_total",
			Help: "Expiry triggers that lost the per-ticket claim and did nothing.",
		},
	)

	LLMAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_llm_attempts_total",
			Help: "LLM calls by provider and result.",
		},
		[]string{"provider", "result"},
	)

	SendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_send_failures_total",
			Help: "Gateway sends that failed after the retry budget, by kind (reply, fallback).",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(WebhooksReceived, BatchesProcessed, ClaimConflicts, LLMAttempts, SendFailures)
}

// Handler serves the Prometheus exposition format on a fasthttp request.
func Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}
