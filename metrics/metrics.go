package metrics

import "github.com/prometheus/client_golang/prometheus"

// PortalMetrics exposes counters for webhooks, subscriptions and the push channel.
type PortalMetrics struct {
	webhookTotal      *prometheus.CounterVec
	subscriptionTotal *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	streamClients     prometheus.Gauge
	reminderTotal     *prometheus.CounterVec
}

func NewPortalMetrics(reg prometheus.Registerer) *PortalMetrics {
	m := &PortalMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "webhooks",
			Name:      "received_total",
			Help:      "Inbound webhooks by source and outcome",
		}, []string{"source", "outcome"}),
		subscriptionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "stripe",
			Name:      "subscription_requests_total",
			Help:      "Subscription create/update requests by resulting status",
		}, []string{"operation", "status"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "appointments",
			Name:      "events_published_total",
			Help:      "Appointment change events published to members",
		}, []string{"status"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "appointments",
			Name:      "stream_clients",
			Help:      "Open appointment update streams",
		}),
		reminderTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "cron",
			Name:      "reminders_total",
			Help:      "Appointment reminder emails by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.subscriptionTotal, m.eventsPublished, m.streamClients, m.reminderTotal)
	return m
}

func (m *PortalMetrics) ObserveWebhook(source, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(source, outcome).Inc()
}

func (m *PortalMetrics) ObserveSubscription(operation, status string) {
	if m == nil {
		return
	}
	m.subscriptionTotal.WithLabelValues(operation, status).Inc()
}

func (m *PortalMetrics) ObserveEventPublished(status string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(status).Inc()
}

func (m *PortalMetrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streamClients.Inc()
}

func (m *PortalMetrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streamClients.Dec()
}

func (m *PortalMetrics) ObserveReminder(outcome string) {
	if m == nil {
		return
	}
	m.reminderTotal.WithLabelValues(outcome).Inc()
}
