package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts trust decisions. A nil *Metrics records nothing.
type Metrics struct {
	TokenVerifications   *prometheus.CounterVec
	WebhookVerifications *prometheus.CounterVec
	WebhookReplay        *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TokenVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_token_verifications_total",
			Help: "Bearer token verifications by result and rejection kind",
		}, []string{"result", "kind"}),
		WebhookVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_webhook_verifications_total",
			Help: "Webhook signature verifications by result and rejection kind",
		}, []string{"result", "kind"}),
		WebhookReplay: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trustkit_webhook_replay_total",
			Help: "Replay guard outcomes",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.TokenVerifications, m.WebhookVerifications, m.WebhookReplay)
	return m
}

func (m *Metrics) token(kind string) {
	if m == nil {
		return
	}
	m.TokenVerifications.WithLabelValues(result(kind), kind).Inc()
}

func (m *Metrics) webhook(kind string) {
	if m == nil {
		return
	}
	m.WebhookVerifications.WithLabelValues(result(kind), kind).Inc()
}

func (m *Metrics) replay(outcome string) {
	if m == nil {
		return
	}
	m.WebhookReplay.WithLabelValues(outcome).Inc()
}

func result(kind string) string {
	if kind == "" {
		return "accepted"
	}
	return "rejected"
}
