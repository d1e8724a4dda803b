package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "devserver"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests handled, by method and status code.",
	}, []string{"method", "code"})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "ws_connections",
		Help:      "Currently connected driver sockets.",
	})

	ordersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "orders_created_total",
		Help:      "Orders accepted for dispatch.",
	})

	offersPushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "offers_pushed_total",
		Help:      "Order offers pushed to drivers over the message channel.",
	})
)
