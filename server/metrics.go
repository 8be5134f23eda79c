package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	middb "github.com/PandiaJason/MidDB"
)

// Compile time check to ensure PrometheusCollector satisfies the collector
// contract.
var _ middb.MetricsCollector = (*PrometheusCollector)(nil)

// PrometheusCollector implements middb.MetricsCollector on top of
// Prometheus counters and histograms. Pair it with the server's /metrics
// endpoint by registering on the same registry.
type PrometheusCollector struct {
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewPrometheusCollector registers the middb metrics on reg and returns
// the collector.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "middb",
			Name:      "operations_total",
			Help:      "Database operations by type and outcome.",
		}, []string{"op", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "middb",
			Name:      "operation_duration_seconds",
			Help:      "Database operation latency by type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(c.ops, c.latency)

	return c
}

func (c *PrometheusCollector) record(op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}

	c.ops.WithLabelValues(op, status).Inc()
	c.latency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *PrometheusCollector) RecordUpsert(d time.Duration, err error) {
	c.record("upsert", d, err)
}

func (c *PrometheusCollector) RecordDelete(d time.Duration, err error) {
	c.record("delete", d, err)
}

func (c *PrometheusCollector) RecordQuery(kind string, d time.Duration, err error) {
	c.record("query_"+kind, d, err)
}

func (c *PrometheusCollector) RecordFlush(d time.Duration, err error) {
	c.record("flush", d, err)
}
