// Package metrics exposes pipeline counters and gauges in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fusion"

// Metrics owns a private registry so tests and multiple instances don't
// collide on the global one. All methods are safe on a nil receiver.
type Metrics struct {
	reg *prometheus.Registry

	estimates     prometheus.Counter
	discarded     prometheus.Counter
	commands      *prometheus.CounterVec
	unrecognized  prometheus.Counter
	lagEvents     prometheus.Counter
	lagSkipped    prometheus.Counter
	udpErrors     prometheus.Counter
	anomalyScores prometheus.Counter

	subscribers  prometheus.Gauge
	alpha        prometheus.Gauge
	confidence   prometheus.Gauge
	systemHealth prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		estimates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "estimates_published_total",
			Help: "Fused estimates delivered to at least one subscriber.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "estimates_discarded_total",
			Help: "Fused estimates produced while nobody was subscribed.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_applied_total",
			Help: "Operator commands applied, by tag.",
		}, []string{"tag"}),
		unrecognized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_unrecognized_total",
			Help: "Commands ignored because their tag is unknown.",
		}),
		lagEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "subscriber_lag_events_total",
			Help: "Times a subscriber fell behind the ring.",
		}),
		lagSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "subscriber_skipped_total",
			Help: "Estimates skipped by lagging subscribers.",
		}),
		udpErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "udp_send_errors_total",
			Help: "Failed UDP datagram sends.",
		}),
		anomalyScores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "anomaly_scores_received_total",
			Help: "Anomaly scores accepted from clients.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subscribers",
			Help: "Subscribers attached to the estimate stream.",
		}),
		alpha: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "filter_alpha",
			Help: "Complementary filter gyro trust.",
		}),
		confidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "confidence",
			Help: "Confidence of the latest estimate.",
		}),
		systemHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "system_health",
			Help: "System health of the latest estimate.",
		}),
	}
	m.reg.MustRegister(
		m.estimates, m.discarded, m.commands, m.unrecognized,
		m.lagEvents, m.lagSkipped, m.udpErrors, m.anomalyScores,
		m.subscribers, m.alpha, m.confidence, m.systemHealth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ObserveEstimate records one fusion result and how many subscribers saw it.
func (m *Metrics) ObserveEstimate(confidence, health, alpha float64, receivers int) {
	if m == nil {
		return
	}
	if receivers > 0 {
		m.estimates.Inc()
	} else {
		m.discarded.Inc()
	}
	m.subscribers.Set(float64(receivers))
	m.confidence.Set(confidence)
	m.systemHealth.Set(health)
	m.alpha.Set(alpha)
}

func (m *Metrics) CommandApplied(tag string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(tag).Inc()
}

func (m *Metrics) CommandUnrecognized() {
	if m == nil {
		return
	}
	m.unrecognized.Inc()
}

func (m *Metrics) SubscriberLagged(skipped uint64) {
	if m == nil {
		return
	}
	m.lagEvents.Inc()
	m.lagSkipped.Add(float64(skipped))
}

func (m *Metrics) UDPSendFailed() {
	if m == nil {
		return
	}
	m.udpErrors.Inc()
}

func (m *Metrics) AnomalyScoreReceived() {
	if m == nil {
		return
	}
	m.anomalyScores.Inc()
}
