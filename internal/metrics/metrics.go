package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	FinderErrors     *prometheus.CounterVec
	Resolved         prometheus.Counter
	Unresolved       prometheus.Counter
	TapsDropped      prometheus.Counter
	Published        prometheus.Counter
	Delivered        prometheus.Counter
	Dropped          *prometheus.CounterVec
	ConnectedKiosks  prometheus.Gauge
	OrderTransitions *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardterminal_identity_cache_hits_total",
			Help: "Card lookups answered from the identity cache",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardterminal_identity_cache_misses_total",
			Help: "Card lookups that had to consult the finder chain",
		}),
		FinderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardterminal_finder_errors_total",
			Help: "Finder calls that failed and were treated as no opinion",
		}, []string{"finder"}),
		Resolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardterminal_taps_resolved_total",
			Help: "Card taps resolved to an identity",
		}),
		Unresolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardterminal_taps_unresolved_total",
			Help: "Card taps no finder recognized",
		}),
		TapsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardterminal_taps_dropped_total",
			Help: "Card taps dropped because the ingress queue stayed full",
		}),
		Published: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardterminal_bridge_published_total",
			Help: "Notifications handed to the event bridge",
		}),
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardterminal_bridge_delivered_total",
			Help: "Notifications written to a kiosk connection",
		}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardterminal_bridge_dropped_total",
			Help: "Notifications dropped by the event bridge",
		}, []string{"reason"}),
		ConnectedKiosks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cardterminal_bridge_connected_sessions",
			Help: "Kiosk sessions currently connected",
		}),
		OrderTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardterminal_order_transitions_total",
			Help: "Pending order state transitions by target state",
		}, []string{"state"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) FinderError(finder string) {
	if m != nil {
		m.FinderErrors.WithLabelValues(finder).Inc()
	}
}

func (m *Metrics) Tap(resolved bool) {
	if m == nil {
		return
	}
	if resolved {
		m.Resolved.Inc()
		return
	}
	m.Unresolved.Inc()
}

func (m *Metrics) TapDropped() {
	if m != nil {
		m.TapsDropped.Inc()
	}
}

func (m *Metrics) Publish() {
	if m != nil {
		m.Published.Inc()
	}
}

func (m *Metrics) Deliver() {
	if m != nil {
		m.Delivered.Inc()
	}
}

func (m *Metrics) Drop(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SetConnected(n int) {
	if m != nil {
		m.ConnectedKiosks.Set(float64(n))
	}
}

func (m *Metrics) Transition(state string) {
	if m != nil {
		m.OrderTransitions.WithLabelValues(state).Inc()
	}
}
