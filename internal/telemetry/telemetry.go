// Package telemetry exposes Prometheus counters for the extraction
// pipeline. All counters are registered on the default registry and
// served by the HTTP server on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline counters.
type Metrics struct {
	LLMRequests        prometheus.Counter
	RepairAttempts     prometheus.Counter
	ExtractionFailures *prometheus.CounterVec
	Extractions        prometheus.Counter
	Upserts            prometheus.Counter
	BatchItems         *prometheus.CounterVec
}

// NewMetrics registers and returns the pipeline counters.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fundscan_llm_requests_total",
			Help: "Chat-completion requests issued, including repair round-trips.",
		}),
		RepairAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fundscan_llm_repair_attempts_total",
			Help: "Repair round-trips issued after a malformed LLM reply.",
		}),
		ExtractionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fundscan_extraction_failures_total",
			Help: "Failed extractions by reason.",
		}, []string{"reason"}),
		Extractions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fundscan_extractions_total",
			Help: "Successful extractions.",
		}),
		Upserts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fundscan_store_upserts_total",
			Help: "Extraction records inserted or updated.",
		}),
		BatchItems: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fundscan_batch_items_total",
			Help: "Batch items processed by outcome.",
		}, []string{"outcome"}),
	}
}
