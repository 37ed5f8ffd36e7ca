package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aeroledger"

// Cycle outcomes.
const (
	OutcomeDecided  = "decided"
	OutcomeSafeMode = "safe_mode"
	OutcomeAborted  = "aborted"
)

var (
	// cyclesTotal counts control cycles. Labels: outcome (decided, safe_mode, aborted)
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "cycles_total",
		Help:      "Control cycles by outcome",
	}, []string{"outcome"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "cycle_duration_seconds",
		Help:      "End-to-end control cycle latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// faultsTotal counts fault findings. Labels: kind, channel
	faultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fault",
		Name:      "findings_total",
		Help:      "Fault findings by kind and affected channel",
	}, []string{"kind", "channel"})

	// judgmentDuration observes provider calls. Labels: judgment (predict, classify, decide), status (ok, error)
	judgmentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "judgment",
		Name:      "duration_seconds",
		Help:      "Judgment call latency",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"judgment", "status"})

	// auditTotal counts emitter outcomes. Labels: result (appended, failed, dropped)
	auditTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "events_total",
		Help:      "Audit events by emitter outcome",
	}, []string{"result"})

	// ingestRejected counts samples refused at the boundary. Labels: reason (invalid, limits, rate)
	ingestRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "rejected_total",
		Help:      "Samples rejected before entering the history store",
	}, []string{"reason"})

	archiveErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "archive",
		Name:      "write_errors_total",
		Help:      "Failed sample archive writes",
	})
)

// RecordCycle records one finished cycle.
func RecordCycle(outcome string, d time.Duration) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDuration.Observe(d.Seconds())
}

// RecordFault counts a fault finding.
func RecordFault(kind, channel string) {
	faultsTotal.WithLabelValues(kind, channel).Inc()
}

// RecordJudgment observes one judgment call.
func RecordJudgment(name string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	judgmentDuration.WithLabelValues(name, status).Observe(d.Seconds())
}

// RecordAudit counts one emitter outcome: appended, failed or dropped.
func RecordAudit(result string) {
	auditTotal.WithLabelValues(result).Inc()
}

// RecordIngestRejected counts a rejected sample.
func RecordIngestRejected(reason string) {
	ingestRejected.WithLabelValues(reason).Inc()
}

// RecordArchiveError counts a failed archive write.
func RecordArchiveError() {
	archiveErrors.Inc()
}
