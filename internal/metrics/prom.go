package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromExporter mirrors an Engine's cumulative counters as Prometheus
// collectors, for operators who want to scrape instead of polling the JSON
// snapshot endpoint. It reads the Engine's Snapshot on every scrape rather
// than duplicating the counters, so the two views never drift.
type PromExporter struct {
	engine *Engine

	total          prometheus.Gauge
	success        prometheus.Gauge
	fail           prometheus.Gauge
	duplicate      prometheus.Gauge
	orderViolation prometheus.Gauge
	uncommitted    prometheus.Gauge
	dlq            prometheus.Gauge
	avgLatency     prometheus.Gauge
	p95Latency     prometheus.Gauge
	p99Latency     prometheus.Gauge
}

// NewPromExporter registers the collectors against the default registry.
func NewPromExporter(engine *Engine, namespace string) *PromExporter {
	g := func(name, help string) prometheus.Gauge {
		return promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	return &PromExporter{
		engine:         engine,
		total:          g("messages_total", "Cumulative messages processed or failed"),
		success:        g("messages_success", "Cumulative successfully processed messages"),
		fail:           g("messages_fail", "Cumulative failed messages"),
		duplicate:      g("messages_duplicate", "Cumulative duplicate messages detected"),
		orderViolation: g("order_violations_total", "Cumulative per-key order violations"),
		uncommitted:    g("uncommitted_messages", "Admitted but not yet released messages"),
		dlq:            g("dlq_messages_total", "Cumulative dead-letter events"),
		avgLatency:     g("latency_avg_ms", "Average end-to-end latency in milliseconds"),
		p95Latency:     g("latency_p95_ms", "p95 end-to-end latency in milliseconds"),
		p99Latency:     g("latency_p99_ms", "p99 end-to-end latency in milliseconds"),
	}
}

// Handler returns an HTTP handler that refreshes the gauges from the Engine
// snapshot, then serves the Prometheus exposition format.
func (p *PromExporter) Handler() http.Handler {
	inner := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := p.engine.Snapshot()
		p.total.Set(float64(snap.TotalMessages))
		p.success.Set(float64(snap.SuccessCount))
		p.fail.Set(float64(snap.FailCount))
		p.duplicate.Set(float64(snap.DuplicateCount))
		p.orderViolation.Set(float64(snap.OrderViolationCount))
		p.uncommitted.Set(float64(snap.UncommittedCount))
		p.dlq.Set(float64(snap.DlqCount))
		p.avgLatency.Set(snap.AvgLatencyMs)
		p.p95Latency.Set(snap.P95LatencyMs)
		p.p99Latency.Set(snap.P99LatencyMs)
		inner.ServeHTTP(w, r)
	})
}
