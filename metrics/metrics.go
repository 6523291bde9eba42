package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds all Prometheus metrics for the service
//
// A nil *Collectors is valid, and records nothing.
type Collectors struct {
	registry *prometheus.Registry

	// Event stream metrics
	ActiveSubscribers  prometheus.Gauge
	EventsBroadcast    *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	SubscribersDropped *prometheus.CounterVec
	StreamRejected     *prometheus.CounterVec

	// Publish metrics
	PublishResults *prometheus.CounterVec
}

// GetCollectors define the collectors on a new registry
func GetCollectors() *Collectors {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Collectors{
		registry: registry,
		ActiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "adstudio",
			Name:      "active_subscribers",
			Help:      "Number of currently registered event stream subscribers",
		}),
		EventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adstudio",
			Name:      "events_broadcast_total",
			Help:      "Events fanned out to subscribers",
		}, []string{"type"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adstudio",
			Name:      "events_dropped_total",
			Help:      "Events discarded because the broadcaster intake was full",
		}, []string{"type"}),
		SubscribersDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adstudio",
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers removed from the registry by the service",
		}, []string{"reason"}),
		StreamRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adstudio",
			Name:      "stream_rejected_total",
			Help:      "Event stream connections refused at admission",
		}, []string{"reason"}),
		PublishResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adstudio",
			Name:      "publish_results_total",
			Help:      "Publish target outcomes",
		}, []string{"platform", "status"}),
	}
}

// Handler HTTP handler exposing the collectors
func (m *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry the underlying prometheus registry
func (m *Collectors) Registry() *prometheus.Registry {
	return m.registry
}

// SetSubscribers record the number of registered subscribers
func (m *Collectors) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Set(float64(count))
}

// IncBroadcast record one event fanned out
func (m *Collectors) IncBroadcast(eventType string) {
	if m == nil {
		return
	}
	m.EventsBroadcast.WithLabelValues(eventType).Inc()
}

// IncEventDropped record one event discarded before fan-out
func (m *Collectors) IncEventDropped(eventType string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(eventType).Inc()
}

// IncDropped record one subscriber removed by the service
func (m *Collectors) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.SubscribersDropped.WithLabelValues(reason).Inc()
}

// IncRejected record one refused stream connection
func (m *Collectors) IncRejected(reason string) {
	if m == nil {
		return
	}
	m.StreamRejected.WithLabelValues(reason).Inc()
}

// IncPublishResult record one publish target outcome
func (m *Collectors) IncPublishResult(platform, status string) {
	if m == nil {
		return
	}
	m.PublishResults.WithLabelValues(platform, status).Inc()
}
