package changelog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/and161185/timeslots/internal/model"
)

// Metrics counts audited mutations. A nil *Metrics records nothing.
type Metrics struct {
	Attempts  prometheus.Counter
	Conflicts prometheus.Counter
	Exhausted prometheus.Counter
	Written   *prometheus.CounterVec
}

// NewMetrics registers the executor metrics with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounter(prometheus.CounterOpts{
			Name: "timeslots_changelog_attempts_total",
			Help: "Transaction attempts made by the audited mutation executor",
		}),
		Conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "timeslots_changelog_conflicts_total",
			Help: "Attempts discarded because of a concurrent write",
		}),
		Exhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "timeslots_changelog_retries_exhausted_total",
			Help: "Mutations abandoned after the last conflicting attempt",
		}),
		Written: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timeslots_changelog_entries_total",
			Help: "Change log entries written by action",
		}, []string{"action"}),
	}
}

func (m *Metrics) attempt() {
	if m != nil {
		m.Attempts.Inc()
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.Conflicts.Inc()
	}
}

func (m *Metrics) exhausted() {
	if m != nil {
		m.Exhausted.Inc()
	}
}

func (m *Metrics) written(a model.ChangeLogAction) {
	if m != nil {
		m.Written.WithLabelValues(a.String()).Inc()
	}
}
