// Package metrics exposes Prometheus collectors for the authentication core.
//
// A nil *Metrics is valid and records nothing, so components take one
// optionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "goaccount"

// Metrics groups the collectors recorded by goAccount components.
type Metrics struct {
	logins         *prometheus.CounterVec
	tokensIssued   *prometheus.CounterVec
	tokensConsumed *prometheus.CounterVec
	tokensSwept    prometheus.Counter
	internalErrors *prometheus.CounterVec
	mailFailures   prometheus.Counter
	auditDropped   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is convenient in tests.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by method and result.",
		}, []string{"method", "result"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by type.",
		}, []string{"type"}),
		tokensConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_consumed_total",
			Help:      "Persisted tokens consumed by a successful flow, by type.",
		}, []string{"type"}),
		tokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_swept_total",
			Help:      "Invalid persisted tokens removed by the sweeper.",
		}),
		internalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "internal_errors_total",
			Help:      "Unexpected errors replaced by a generic failure at the engine boundary.",
		}, []string{"op"}),
		mailFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_failures_total",
			Help:      "Notification emails that could not be delivered.",
		}),
		auditDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events discarded because the dispatcher could not queue them, by event type.",
		}, []string{"type"}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.logins, m.tokensIssued, m.tokensConsumed, m.tokensSwept, m.internalErrors, m.mailFailures,
		m.auditDropped,
	}
}

// Login records a login attempt. result is "success" or the failure key.
func (m *Metrics) Login(method, result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(method, result).Inc()
}

// TokenIssued counts a saved token of typ.
func (m *Metrics) TokenIssued(typ string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(typ).Inc()
}

// TokenConsumed counts a token of typ claimed by a flow.
func (m *Metrics) TokenConsumed(typ string) {
	if m == nil {
		return
	}
	m.tokensConsumed.WithLabelValues(typ).Inc()
}

// TokensSwept adds n removed expired tokens.
func (m *Metrics) TokensSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensSwept.Add(float64(n))
}

// InternalError counts an unexpected failure of op.
func (m *Metrics) InternalError(op string) {
	if m == nil {
		return
	}
	m.internalErrors.WithLabelValues(op).Inc()
}

// MailFailure counts a mail that could not be sent.
func (m *Metrics) MailFailure() {
	if m == nil {
		return
	}
	m.mailFailures.Inc()
}

// AuditDropped counts a discarded audit event of typ.
func (m *Metrics) AuditDropped(typ string) {
	if m == nil {
		return
	}
	m.auditDropped.WithLabelValues(typ).Inc()
}
