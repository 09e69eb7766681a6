// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	CreditsMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_minted_total",
		Help: "Credits minted into wallets.",
	})

	CreditTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_transfers_total",
		Help: "Wallet transfers by result.",
	}, []string{"result"})

	MarketplacePurchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_purchases_total",
		Help: "Listing purchases and auction closes by result.",
	}, []string{"result"})

	SagaCompensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_compensations_total",
		Help: "Compensating reverse transfers by result (applied, queued, failed).",
	}, []string{"result"})

	OutboxJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_jobs_total",
		Help: "Outbox job executions by kind and result.",
	}, []string{"kind", "result"})

	UpstreamCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_call_duration_seconds",
		Help:    "Latency of calls to other services by target and outcome.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"service", "outcome"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections",
		Help: "Open marketplace websocket connections on this instance.",
	})

	WSEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_events_total",
		Help: "Marketplace events pushed to websocket clients by result (sent, dropped).",
	}, []string{"result"})
)
