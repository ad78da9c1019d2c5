// ABOUTME: Prometheus instruments for the relay
// ABOUTME: Nil-safe recorders so components run without metrics configured

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatwoot_relay"

// Metrics holds the relay's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	webhooks        *prometheus.CounterVec
	published       *prometheus.CounterVec
	streamsOpened   *prometheus.CounterVec
	streamsClosed   *prometheus.CounterVec
	forwarded       *prometheus.CounterVec
	polls           *prometheus.CounterVec
	transcriptDrops prometheus.Counter
	rateLimited     *prometheus.CounterVec
}

// New creates and registers the relay collectors together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published to conversation subscribers.",
		}, []string{"event"}),
		streamsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_opened_total",
			Help:      "SSE streams opened by mode.",
		}, []string{"mode"}),
		streamsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_closed_total",
			Help:      "SSE streams closed by reason.",
		}, []string{"reason"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_messages_total",
			Help:      "Outbound user messages by integration and outcome.",
		}, []string{"integration", "result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Upstream poll requests by kind and outcome.",
		}, []string{"kind", "result"}),
		transcriptDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_dropped_total",
			Help:      "Events not recorded because the transcript queue was full.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhooks,
		m.published,
		m.streamsOpened,
		m.streamsClosed,
		m.forwarded,
		m.polls,
		m.transcriptDrops,
		m.rateLimited,
	)
	return m
}

// RegisterHub exposes live subscriber and conversation counts.
func (m *Metrics) RegisterHub(subscribers, conversations func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_subscribers",
			Help:      "Open SSE subscribers across all conversations.",
		}, func() float64 { return float64(subscribers()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_conversations",
			Help:      "Conversations with at least one subscriber.",
		}, func() float64 { return float64(conversations()) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) WebhookReceived(result string) {
	if m != nil {
		m.webhooks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) EventPublished(event string) {
	if m != nil {
		m.published.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) StreamOpened(mode string) {
	if m != nil {
		m.streamsOpened.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) StreamClosed(reason string) {
	if m != nil {
		m.streamsClosed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Forwarded(integration, result string) {
	if m != nil {
		m.forwarded.WithLabelValues(integration, result).Inc()
	}
}

func (m *Metrics) Polled(kind, result string) {
	if m != nil {
		m.polls.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) TranscriptDropped() {
	if m != nil {
		m.transcriptDrops.Inc()
	}
}

func (m *Metrics) RateLimited(route string) {
	if m != nil {
		m.rateLimited.WithLabelValues(route).Inc()
	}
}
