package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline activity per operation.
type Metrics struct {
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
	errors    *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg. A nil reg
// leaves them unregistered. Counters already registered with reg, by another
// client for example, are shared.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oidcservice_requests_total",
			Help: "Count of requests built, by operation.",
		}, []string{"operation"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oidcservice_responses_total",
			Help: "Count of responses integrated into flow state, by operation.",
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oidcservice_pipeline_errors_total",
			Help: "Count of failed request builds and response parses, by operation and stage.",
		}, []string{"operation", "stage"}),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []**prometheus.CounterVec{&m.requests, &m.responses, &m.errors} {
		if err := reg.Register(*c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, err
			}
			*c = existing
		}
	}
	return m, nil
}

func (m *Metrics) request(op string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op).Inc()
}

func (m *Metrics) response(op string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(op).Inc()
}

func (m *Metrics) failure(op, stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(op, stage).Inc()
}
