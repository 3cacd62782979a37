// Package observability holds the Prometheus metrics exported throughout
// the dispatch core: offers, rounds, acceptances, drivers online, and
// HTTP latency.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "offers_total", Help: "Total corrida_disponivel offers emitted",
	})
	RoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "auction_rounds_total", Help: "Total auction rounds advanced",
	})
	AcceptancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "acceptances_total", Help: "Total rides awarded to a driver",
	})
	ExhaustionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_dispatch", Name: "exhaustions_total", Help: "Total rides that exhausted all rounds with no driver",
	})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ride_dispatch", Name: "drivers_online", Help: "Number of currently available drivers",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
