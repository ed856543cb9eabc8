package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts authorization outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Denied *prometheus.CounterVec
}

// NewMetrics registers service metrics with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Denied: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "timeslots_permission_denied_total",
			Help: "Actions refused because no held group granted them",
		}, []string{"resource", "action"}),
	}
}

func (m *Metrics) denied(resource, action string) {
	if m != nil {
		m.Denied.WithLabelValues(resource, action).Inc()
	}
}
