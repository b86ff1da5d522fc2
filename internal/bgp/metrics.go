package bgp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of per-peer gauges/counters exposed to a
// prometheus.Registerer, grounded on the promauto vector pattern in
// malbeclabs-doublezero's telemetry/global-monitor/internal/metrics.
// Unlike that package-level var block, these are per-Peer instances
// (one daemon manages many peers, each with its own label values), so
// they are built with a peer identifier baked in via curried vectors
// rather than a global singleton.
type Metrics struct {
	ListenerRefcount prometheus.Gauge
	SessionUp        prometheus.Gauge
	EstablishedTotal prometheus.Counter
	LastErrorClass   prometheus.Gauge
}

// MetricsVecs holds the registerable vectors a daemon creates once and
// curries per peer via ForPeer.
type MetricsVecs struct {
	listenerRefcount *prometheus.GaugeVec
	sessionUp        *prometheus.GaugeVec
	establishedTotal *prometheus.CounterVec
	lastErrorClass   *prometheus.GaugeVec
}

// NewMetricsVecs registers the bgpd_ metric families on reg.
func NewMetricsVecs(reg prometheus.Registerer) *MetricsVecs {
	v := &MetricsVecs{
		listenerRefcount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bgpd_listener_refcount",
			Help: "Current reference count on the shared listening socket for a peer's remote address.",
		}, []string{"peer"}),
		sessionUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bgpd_session_up",
			Help: "1 if the peer session is Established, 0 otherwise.",
		}, []string{"peer"}),
		establishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bgpd_session_established_total",
			Help: "Total number of times this peer's session has reached Established.",
		}, []string{"peer"}),
		lastErrorClass: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bgpd_last_error_class",
			Help: "ErrorClass enum value of the peer's most recently recorded error.",
		}, []string{"peer"}),
	}
	reg.MustRegister(v.listenerRefcount, v.sessionUp, v.establishedTotal, v.lastErrorClass)
	return v
}

// ForPeer curries the vectors to a single peer label, ready to hand to
// NewPeer.
func (v *MetricsVecs) ForPeer(peer string) *Metrics {
	return &Metrics{
		ListenerRefcount: v.listenerRefcount.WithLabelValues(peer),
		SessionUp:        v.sessionUp.WithLabelValues(peer),
		EstablishedTotal: v.establishedTotal.WithLabelValues(peer),
		LastErrorClass:   v.lastErrorClass.WithLabelValues(peer),
	}
}
