package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "chatlink"

// MessagingMetrics exposes counters/histograms for ingestion and dispatch.
type MessagingMetrics struct {
	inboundTotal  *prometheus.CounterVec
	outboundTotal *prometheus.CounterVec
	sendLatency   *prometheus.HistogramVec
	bulkBatches   *prometheus.CounterVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_total",
			Help:      "Inbound transport events by ingestion outcome",
		}, []string{"outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Outbound sends by final status",
		}, []string{"status", "origin"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "send_latency_seconds",
			Help:      "Latency of transport send calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		bulkBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "bulk_batches_total",
			Help:      "Bulk send requests by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.sendLatency, m.bulkBatches)
	return m
}

func (m *MessagingMetrics) ObserveInbound(outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(outcome).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status, origin string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status, origin).Inc()
}

func (m *MessagingMetrics) ObserveSendLatency(status string, seconds float64) {
	if m == nil {
		return
	}
	m.sendLatency.WithLabelValues(status).Observe(seconds)
}

func (m *MessagingMetrics) ObserveBulk(result string) {
	if m == nil {
		return
	}
	m.bulkBatches.WithLabelValues(result).Inc()
}

// ConnectionMetrics tracks connection instance transitions.
type ConnectionMetrics struct {
	transitions *prometheus.CounterVec
	reconnects  *prometheus.CounterVec
	live        prometheus.Gauge
}

func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	m := &ConnectionMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "Connection state transitions by target status",
		}, []string{"status"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by trigger",
		}, []string{"trigger"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "live_handles",
			Help:      "Transport handles currently held in memory",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.reconnects, m.live)
	return m
}

func (m *ConnectionMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *ConnectionMetrics) ObserveReconnect(trigger string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(trigger).Inc()
}

func (m *ConnectionMetrics) SetLiveHandles(n int) {
	if m == nil {
		return
	}
	m.live.Set(float64(n))
}

// AutomationMetrics tracks auto-reply outcomes and responder latency.
type AutomationMetrics struct {
	outcomes         *prometheus.CounterVec
	responderLatency *prometheus.HistogramVec
	signals          *prometheus.CounterVec
}

func NewAutomationMetrics(reg prometheus.Registerer) *AutomationMetrics {
	m := &AutomationMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "outcomes_total",
			Help:      "Auto-reply attempts by outcome",
		}, []string{"outcome"}),
		responderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "responder_latency_seconds",
			Help:      "Latency of responder calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"outcome"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "automation",
			Name:      "thread_signals_total",
			Help:      "Escalation and resolution signals sent to the thread-state collaborator",
		}, []string{"signal"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.outcomes, m.responderLatency, m.signals)
	return m
}

func (m *AutomationMetrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *AutomationMetrics) ObserveResponder(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.responderLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *AutomationMetrics) ObserveSignal(signal string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(signal).Inc()
}
