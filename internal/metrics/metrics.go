package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "threatstream"

// Metrics holds the collectors shared by the stream client and the failure
// reporter. All methods are safe on a nil receiver so components can run
// without metrics.
type Metrics struct {
	connectionState *prometheus.GaugeVec
	reconnects      prometheus.Counter
	framesReceived  *prometheus.CounterVec
	parseErrors     prometheus.Counter
	sends           *prometheus.CounterVec

	reportsSent     prometheus.Counter
	reportsBuffered prometheus.Counter
	reportsEvicted  prometheus.Counter
	reportsPending  prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "connection_state",
				Help:      "1 for the current connection state, 0 for the others",
			},
			[]string{"state"},
		),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Automatic reconnects scheduled",
		}),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "frames_received_total",
				Help:      "Decoded inbound frames by channel",
			},
			[]string{"channel"},
		),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "parse_errors_total",
			Help:      "Inbound frames that could not be decoded",
		}),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "sends_total",
				Help:      "Outbound sends by result",
			},
			[]string{"result"},
		),
		reportsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "sent_total",
			Help:      "Failure reports accepted by the sink",
		}),
		reportsBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "buffered_total",
			Help:      "Failure reports stored in the fallback buffer",
		}),
		reportsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "evicted_total",
			Help:      "Buffered reports dropped to make room for newer ones",
		}),
		reportsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reports",
			Name:      "pending",
			Help:      "Reports currently waiting in the fallback buffer",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connectionState,
			m.reconnects,
			m.framesReceived,
			m.parseErrors,
			m.sends,
			m.reportsSent,
			m.reportsBuffered,
			m.reportsEvicted,
			m.reportsPending,
		)
	}

	return m
}

// SetConnectionState marks state as the current one among states.
func (m *Metrics) SetConnectionState(state string, states ...string) {
	if m == nil {
		return
	}
	for _, s := range states {
		m.connectionState.WithLabelValues(s).Set(0)
	}
	m.connectionState.WithLabelValues(state).Set(1)
}

func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) IncFrames(channel string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(channel).Inc()
}

func (m *Metrics) IncParseErrors() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

// IncSends counts an outbound send. ok is false when the stream was not open
// or the write failed.
func (m *Metrics) IncSends(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "dropped"
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) IncReportsSent() {
	if m == nil {
		return
	}
	m.reportsSent.Inc()
}

func (m *Metrics) IncReportsBuffered() {
	if m == nil {
		return
	}
	m.reportsBuffered.Inc()
}

func (m *Metrics) IncReportsEvicted() {
	if m == nil {
		return
	}
	m.reportsEvicted.Inc()
}

func (m *Metrics) SetReportsPending(n int) {
	if m == nil {
		return
	}
	m.reportsPending.Set(float64(n))
}
