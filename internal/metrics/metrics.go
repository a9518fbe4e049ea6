package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics covers the engine's three hot outcomes: checkout attempts, payment
// confirmations and stock released back to the pool.
type Metrics struct {
	Checkouts     *prometheus.CounterVec
	Confirmations *prometheus.CounterVec
	StockReleased prometheus.Counter
	LatencyMS     *prometheus.HistogramVec
}

func New(service string) *Metrics {
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storelink",
		Subsystem: service,
		Name:      "checkouts_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})
	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storelink",
		Subsystem: service,
		Name:      "confirmations_total",
		Help:      "Payment confirmations by result.",
	}, []string{"result"})
	released := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storelink",
		Subsystem: service,
		Name:      "stock_released_orders_total",
		Help:      "Orders whose reservation was released by the expiry sweep.",
	})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storelink",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	prometheus.MustRegister(checkouts, confirmations, released, latency)
	return &Metrics{
		Checkouts:     checkouts,
		Confirmations: confirmations,
		StockReleased: released,
		LatencyMS:     latency,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
