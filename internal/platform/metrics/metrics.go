package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	UsersCreated    prometheus.Counter
	LoansSubmitted  prometheus.Counter
	LoansWithdrawn  prometheus.Counter
	Decisions       *prometheus.CounterVec
	EditsRequested  prometheus.Counter
	EditsResolved   *prometheus.CounterVec
	ScoringFailures prometheus.Counter
	ScoringLatency  prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		UsersCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fairfin_users_created_total",
			Help: "Total number of users created on first login",
		}),
		LoansSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fairfin_loans_submitted_total",
			Help: "Total number of loan applications submitted",
		}),
		LoansWithdrawn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fairfin_loans_withdrawn_total",
			Help: "Total number of loan applications withdrawn",
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fairfin_loan_decisions_total",
			Help: "Loan decisions applied, by outcome and origin",
		}, []string{"outcome", "origin"}),
		EditsRequested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fairfin_edit_requests_total",
			Help: "Total number of edit requests filed",
		}),
		EditsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fairfin_edit_requests_resolved_total",
			Help: "Edit requests resolved, by outcome",
		}, []string{"outcome"}),
		ScoringFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fairfin_scoring_failures_total",
			Help: "Scoring collaborator calls that failed or timed out",
		}),
		ScoringLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fairfin_scoring_latency_seconds",
			Help:    "Latency of scoring collaborator calls",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveScoringLatency records a scorer round trip.
func (m *Metrics) ObserveScoringLatency(d time.Duration) {
	m.ScoringLatency.Observe(d.Seconds())
}
