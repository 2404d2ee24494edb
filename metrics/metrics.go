// Package metrics is ambient observability (spec §1 lists it among the
// out-of-scope external collaborators), backed by
// github.com/prometheus/client_golang the way both vegaprotocol-vega and
// UmarFarooq-MP-Loki do. Every counter here lives on the consumer side of
// a ring, never the producer side, so instrumentation never adds a branch
// to the hot SPSC write path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter the venue's threads increment.
type Registry struct {
	RequestsSequenced   prometheus.Counter
	OrdersAccepted      prometheus.Counter
	OrdersCanceled      prometheus.Counter
	OrdersFilled        prometheus.Counter
	MarketUpdatesSent   prometheus.Counter
	GatewayDrops        *prometheus.CounterVec
	MDCResyncsTriggered prometheus.Counter
}

// NewRegistry registers every counter against its own prometheus.Registry
// (never the global default, for the same "no ambient global state"
// reason the logging package gives each thread its own sink).
func NewRegistry() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		RequestsSequenced: factory.NewCounter(prometheus.CounterOpts{
			Name: "femto_requests_sequenced_total",
			Help: "Client requests published onto the matching engine's inbound ring.",
		}),
		OrdersAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "femto_orders_accepted_total",
			Help: "NEW requests accepted by the matching engine, whether or not any quantity rested.",
		}),
		OrdersCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "femto_orders_canceled_total",
			Help: "Orders removed from a book by an explicit cancel.",
		}),
		OrdersFilled: factory.NewCounter(prometheus.CounterOpts{
			Name: "femto_orders_filled_total",
			Help: "FILLED responses emitted (one per side of a trade).",
		}),
		MarketUpdatesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "femto_market_updates_total",
			Help: "Market updates framed onto the incremental multicast stream.",
		}),
		GatewayDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "femto_gateway_drops_total",
			Help: "Inbound requests dropped at the gateway, by reason.",
		}, []string{"reason"}),
		MDCResyncsTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "femto_mdc_resyncs_total",
			Help: "Snapshot-based recovery rounds the MDC has entered.",
		}),
	}, reg
}

// Handler returns an http.Handler serving reg's metrics in the
// Prometheus text exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
