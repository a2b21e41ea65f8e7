package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hypnos_http_requests_total",
			Help: "Total number of HTTP requests handled by Hypnos",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hypnos_http_request_latency_seconds",
			Help:    "Latency of HTTP requests handled by Hypnos",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	httpRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hypnos_http_rate_limited_total",
			Help: "Total number of HTTP requests rate limited by Hypnos",
		},
		[]string{"route"},
	)
	proxyRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hypnos_proxy_retries_total",
			Help: "Total number of upstream retries performed by Hypnos",
		},
		[]string{"method"},
	)
)
