package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JournalMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_messages_total",
			Help: "Raw messages written to the journal (count)",
		},
		[]string{"status"},
	)

	JournalDecodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_decode_failures_total",
			Help: "Raw messages dropped because the journaled bytes could not be decoded (count)",
		},
	)

	IngestMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Messages handled by the ingest service (count)",
		},
		[]string{"status"},
	)

	DeflectorCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deflector_cycles_total",
			Help: "Deflector cycles performed (count)",
		},
		[]string{"status"},
	)

	DeflectorCurrentTargetNumber = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deflector_current_target_number",
			Help: "Sequence number of the current deflector write target",
		},
	)

	SystemJobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "system_jobs_submitted_total",
			Help: "System jobs submitted (count)",
		},
		[]string{"type", "status"},
	)

	SystemJobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "system_jobs_running",
			Help: "System jobs currently running (count)",
		},
	)

	DedupMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_messages_total",
			Help: "Messages checked against the dedup cache (count)",
		},
		[]string{"status"},
	)

	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_requests_total",
			Help: "Requests issued to the search backend (count)",
		},
		[]string{"operation", "status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

func Register() {
	prometheus.MustRegister(
		JournalMessagesTotal,
		JournalDecodeFailuresTotal,
		IngestMessagesTotal,
		DeflectorCyclesTotal,
		DeflectorCurrentTargetNumber,
		SystemJobsSubmittedTotal,
		SystemJobsRunning,
		DedupMessagesTotal,
		BackendRequestsTotal,
		CircuitBreakerState,
	)
}
