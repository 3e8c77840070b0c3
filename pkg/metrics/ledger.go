package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks usage deductions and the serializable transaction
// harness that protects them.
type LedgerMetrics struct {
	deducted    *prometheus.CounterVec
	shortfall   *prometheus.CounterVec
	expirations prometheus.Counter
	conflicts   *prometheus.CounterVec
	exhausted   prometheus.Counter
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	deducted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meterly_usage_requests_deducted_total",
		Help: "Requests deducted from usage buckets.",
	}, []string{"service", "bucket"})
	shortfall := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meterly_usage_requests_unsatisfied_total",
		Help: "Requests no bucket could cover.",
	}, []string{"service"})
	expirations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meterly_credit_packages_expired_total",
		Help: "Credit packages that ran out of credits.",
	})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meterly_tx_serialization_conflicts_total",
		Help: "Serializable transaction attempts aborted by a conflict.",
	}, []string{"attempt"})
	exhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meterly_tx_failed_total",
		Help: "Serializable transactions that failed after exhausting retries or deadlines.",
	})
	reg.MustRegister(deducted, shortfall, expirations, conflicts, exhausted)
	return &LedgerMetrics{
		deducted:    deducted,
		shortfall:   shortfall,
		expirations: expirations,
		conflicts:   conflicts,
		exhausted:   exhausted,
	}
}

// AddDeducted records requests taken from a bucket kind.
func (m *LedgerMetrics) AddDeducted(service, bucket string, requests int64) {
	if m == nil || m.deducted == nil || requests <= 0 {
		return
	}
	m.deducted.WithLabelValues(normalizeLabel(service), normalizeLabel(bucket)).Add(float64(requests))
}

// AddShortfall records requests left uncovered.
func (m *LedgerMetrics) AddShortfall(service string, requests int64) {
	if m == nil || m.shortfall == nil || requests <= 0 {
		return
	}
	m.shortfall.WithLabelValues(normalizeLabel(service)).Add(float64(requests))
}

// IncPackageExpired counts a credit package expiring.
func (m *LedgerMetrics) IncPackageExpired() {
	if m == nil || m.expirations == nil {
		return
	}
	m.expirations.Inc()
}

// ObserveTxConflict satisfies db.RetryObserver.
func (m *LedgerMetrics) ObserveTxConflict(attempt int) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// ObserveTxExhausted satisfies db.RetryObserver.
func (m *LedgerMetrics) ObserveTxExhausted() {
	if m == nil || m.exhausted == nil {
		return
	}
	m.exhausted.Inc()
}
