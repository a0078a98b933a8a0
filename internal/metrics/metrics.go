package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

// Metrics aggregates the prometheus collectors for the fan-out and collection
// paths. Registered on a private registry so tests can create as many
// instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	FanoutRequests *prometheus.CounterVec
	FanoutLatency  *prometheus.HistogramVec
	ParseFailures  *prometheus.CounterVec
	TaskPages      *prometheus.CounterVec
	TaskItems      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.FanoutRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vodhub_fanout_requests_total",
		Help: "Aggregator fan-out requests by source and outcome.",
	}, []string{"source", "outcome"})

	m.FanoutLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vodhub_fanout_latency_seconds",
		Help:    "Per-source fan-out latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	m.ParseFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vodhub_parse_failures_total",
		Help: "Response parse failures by source and declared format.",
	}, []string{"source", "format"})

	m.TaskPages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vodhub_task_pages_total",
		Help: "Collection task pages by outcome.",
	}, []string{"outcome"})

	m.TaskItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vodhub_task_items_total",
		Help: "Collection task items by merge result.",
	}, []string{"result"})

	m.registry.MustRegister(
		m.FanoutRequests,
		m.FanoutLatency,
		m.ParseFailures,
		m.TaskPages,
		m.TaskItems,
	)
	return m
}

// Handler exposes the registry for the gin /metrics route.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
