package walletchat

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opd-ai/walletchat/liveness"
	"github.com/opd-ai/walletchat/messaging"
)

const metricsNamespace = "walletchat"

// Confirmation outcomes used as the result label.
const (
	resultApplied   = "applied"
	resultDuplicate = "duplicate"
	resultUnknown   = "unknown"
	resultSent      = "sent"
	resultFailed    = "failed"
)

type metrics struct {
	sent          *prometheus.CounterVec
	received      prometheus.Counter
	confirmations *prometheus.CounterVec
	statusChanges *prometheus.CounterVec
	diagnostics   *prometheus.CounterVec
}

// newMetrics builds the client's counters and registers them with reg. A nil
// registerer leaves them unregistered. Clients sharing a registerer share the
// counters already registered there.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Total number of outbound messages broken down by transport result.",
		}, []string{"result"}),

		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Total number of distinct inbound messages stored.",
		}),

		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "confirmations",
			Name:      "total",
			Help:      "Total number of delivery and read confirmations broken down by kind and outcome.",
		}, []string{"kind", "result"}),

		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "contacts",
			Name:      "status_changes_total",
			Help:      "Total number of contact status transitions broken down by new status.",
		}, []string{"status"}),

		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "inbound",
			Name:      "diagnostics_total",
			Help:      "Total number of inbound events not fully handled broken down by kind.",
		}, []string{"kind"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.sent, err = register(reg, m.sent); err != nil {
		return nil, err
	}
	if m.received, err = register(reg, m.received); err != nil {
		return nil, err
	}
	if m.confirmations, err = register(reg, m.confirmations); err != nil {
		return nil, err
	}
	if m.statusChanges, err = register(reg, m.statusChanges); err != nil {
		return nil, err
	}
	if m.diagnostics, err = register(reg, m.diagnostics); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, or returns the equivalent collector registered
// earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	var zero T
	return zero, errors.Wrap(err, "register metrics")
}

func (m *metrics) messageSent(ok bool) {
	result := resultSent
	if !ok {
		result = resultFailed
	}
	m.sent.WithLabelValues(result).Inc()
}

func (m *metrics) messageReceived() {
	m.received.Inc()
}

func (m *metrics) confirmation(kind messaging.ConfirmationKind, result string) {
	m.confirmations.WithLabelValues(kind.String(), result).Inc()
}

func (m *metrics) statusChange(status liveness.Status) {
	m.statusChanges.WithLabelValues(status.String()).Inc()
}

func (m *metrics) diagnostic(kind DiagnosticKind) {
	m.diagnostics.WithLabelValues(kind.String()).Inc()
}
