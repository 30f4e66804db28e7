// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recruitpipe"

var (
	// TurnsTotal counts processed inbound turns by result (reply, close, silent, debug, error).
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of inbound turns processed",
		},
		[]string{"result"},
	)

	// ClosesTotal counts thread closes by close type.
	ClosesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closes_total",
			Help:      "Total number of closed threads",
		},
		[]string{"type"},
	)

	// SilentAcksTotal counts inbound messages swallowed after a thread closed.
	SilentAcksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silent_acks_total",
			Help:      "Inbound messages received on closed threads",
		},
	)

	// LLMRequestsTotal counts model calls by operation and status.
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of language model requests",
		},
		[]string{"op", "status"},
	)

	// LLMDuration observes model call latency.
	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_duration_seconds",
			Help:      "Language model request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"op"},
	)

	// SMSSentTotal counts outgoing SMS attempts by status (sent, failed, dry_run).
	SMSSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sms_sent_total",
			Help:      "Total number of outgoing SMS attempts",
		},
		[]string{"status"},
	)

	// ReportEventsTotal counts reporting sink events by status (ok, error, dropped).
	ReportEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_events_total",
			Help:      "Total number of reporting events",
		},
		[]string{"status"},
	)

	// DuplicateInboundTotal counts provider deliveries dropped by dedup.
	DuplicateInboundTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_inbound_total",
			Help:      "Inbound deliveries dropped as duplicates",
		},
	)
)

// ObserveLLM records one model call.
func ObserveLLM(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	LLMRequestsTotal.WithLabelValues(op, status).Inc()
	LLMDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
