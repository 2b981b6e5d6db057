// Package metrics holds the Prometheus collectors of the storefront. They
// are registered on a private registry served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	// OrdersPlaced counts checkout attempts. Labels: result, reason
	OrdersPlaced *prometheus.CounterVec
	// CheckoutDuration measures PlaceOrder end to end. Labels: result
	CheckoutDuration *prometheus.HistogramVec
	// CleanupFailures counts post-order cleanup steps that failed.
	// Labels: step (cart_line, address_slot, last_order_slot, event)
	CleanupFailures *prometheus.CounterVec
	// HTTPRequests counts handled requests. Labels: route, method, status
	HTTPRequests *prometheus.CounterVec
	// ActiveWorkspaces tracks signed-in sessions held in memory.
	ActiveWorkspaces prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "orders_total",
			Help:      "Checkout attempts by result and failure reason.",
		}, []string{"result", "reason"}),
		CheckoutDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_seconds",
			Help:      "Time spent placing an order.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		CleanupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "cleanup_failures_total",
			Help:      "Cleanup steps that failed after an order was written.",
		}, []string{"step"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		ActiveWorkspaces: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workspaces",
			Help:      "Signed-in sessions currently held in memory.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
