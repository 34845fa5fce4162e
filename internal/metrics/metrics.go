package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// client-side reconciliation
	RemoteFailures    *prometheus.CounterVec
	RemoteLatencySec  *prometheus.HistogramVec
	StaleResponses    prometheus.Counter
	LocalStoreCorrupt prometheus.Counter

	// checkout
	Orders          *prometheus.CounterVec
	FallbackLogged  prometheus.Counter
	Replayed        prometheus.Counter
	ReplayRemaining prometheus.Gauge
	PublishFailures prometheus.Counter

	// orders taken while the remote basket kept the submitted items
	UnclearedBaskets prometheus.Counter

	// basketd
	BasketOps      *prometheus.CounterVec
	OrdersAccepted prometheus.Counter
	IdempotentHits prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	remoteFailures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "salon_remote_failures_total"}, []string{"op"})
	remoteLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "salon_remote_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	stale := prometheus.NewCounter(prometheus.CounterOpts{Name: "salon_stale_responses_total"})
	corrupt := prometheus.NewCounter(prometheus.CounterOpts{Name: "salon_local_store_corrupt_total"})

	orders := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "salon_orders_total"}, []string{"state"})
	fallbackLogged := prometheus.NewCounter(prometheus.CounterOpts{Name: "salon_fallback_logged_total"})
	replayed := prometheus.NewCounter(prometheus.CounterOpts{Name: "salon_fallback_replayed_total"})
	remaining := prometheus.NewGauge(prometheus.GaugeOpts{Name: "salon_fallback_remaining"})
	publishFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "salon_publish_failures_total"})
	uncleared := prometheus.NewCounter(prometheus.CounterOpts{Name: "salon_uncleared_remote_baskets_total"})

	basketOps := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "salon_server_basket_ops_total"}, []string{"op"})
	accepted := prometheus.NewCounter(prometheus.CounterOpts{Name: "salon_server_orders_total"})
	idemHits := prometheus.NewCounter(prometheus.CounterOpts{Name: "salon_server_idempotent_replays_total"})

	r.MustRegister(remoteFailures, remoteLatency, stale, corrupt,
		orders, fallbackLogged, replayed, remaining, publishFailures, uncleared,
		basketOps, accepted, idemHits)
	return &Registry{
		reg:               r,
		RemoteFailures:    remoteFailures,
		RemoteLatencySec:  remoteLatency,
		StaleResponses:    stale,
		LocalStoreCorrupt: corrupt,
		Orders:            orders,
		FallbackLogged:    fallbackLogged,
		Replayed:          replayed,
		ReplayRemaining:   remaining,
		PublishFailures:   publishFailures,
		UnclearedBaskets:  uncleared,
		BasketOps:         basketOps,
		OrdersAccepted:    accepted,
		IdempotentHits:    idemHits,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
