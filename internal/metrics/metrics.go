package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CustodyTransitions *prometheus.CounterVec
	AuthzDecisions     *prometheus.CounterVec
	SerialAllocations  *prometheus.CounterVec
	LockWait           prometheus.Histogram
	AuditRecords       *prometheus.CounterVec
}

// New registers the service instruments with reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CustodyTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orozarna_custody_transitions_total",
			Help: "Custody Take/Return attempts by outcome",
		}, []string{"action", "outcome"}),
		AuthzDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orozarna_authz_decisions_total",
			Help: "Authorization decisions by operation, origin class and decision",
		}, []string{"operation", "origin", "decision"}),
		SerialAllocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orozarna_serial_allocations_total",
			Help: "Serial allocation attempts by prefix and outcome",
		}, []string{"prefix", "outcome"}),
		LockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "orozarna_lock_wait_seconds",
			Help:    "Time spent waiting for a keyed lock",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
		}),
		AuditRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orozarna_audit_records_total",
			Help: "Audit entries by write outcome",
		}, []string{"outcome"}),
	}
}

// Discard returns instruments registered nowhere, for callers that don't
// export metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) IncrementCustody(action, outcome string) {
	m.CustodyTransitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncrementAuthz(operation, origin, decision string) {
	m.AuthzDecisions.WithLabelValues(operation, origin, decision).Inc()
}

func (m *Metrics) IncrementAllocation(prefix, outcome string) {
	m.SerialAllocations.WithLabelValues(prefix, outcome).Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	m.LockWait.Observe(d.Seconds())
}

func (m *Metrics) IncrementAudit(outcome string) {
	m.AuditRecords.WithLabelValues(outcome).Inc()
}
