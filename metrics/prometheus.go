// Package metrics provides the Prometheus implementation of the deployment
// cache metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parthshah1/flow-harness/deploycache"
)

// Default histogram buckets for deployment latency (in seconds). Dev chains
// mine in well under a second; build-tool subprocesses take tens of seconds.
var defaultBuckets = []float64{
	.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120,
}

// cacheMetrics implements deploycache.Metrics using Prometheus.
type cacheMetrics struct {
	cacheHits      *prometheus.CounterVec
	sharedResults  *prometheus.CounterVec
	deploysStarted *prometheus.CounterVec
	deploysTotal   *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	resolvedSlots  prometheus.Gauge
}

// NewCacheMetrics creates a Prometheus implementation of deploycache.Metrics
// and registers its collectors with reg.
func NewCacheMetrics(reg prometheus.Registerer) deploycache.Metrics {
	m := &cacheMetrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_deploycache_hits_total",
			Help: "Total number of lookups served from a resolved slot",
		}, []string{"kind"}),

		sharedResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_deploycache_shared_results_total",
			Help: "Total number of callers that received a result shared with other callers",
		}, []string{"kind"}),

		deploysStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_deploycache_deploys_started_total",
			Help: "Total number of deployment attempts started",
		}, []string{"kind"}),

		deploysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flow_deploycache_deploys_total",
			Help: "Total number of deployment attempts finished",
		}, []string{"kind", "success"}),

		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flow_deploycache_deploy_duration_seconds",
			Help:    "Deployment attempt duration in seconds",
			Buckets: defaultBuckets,
		}, []string{"kind"}),

		resolvedSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flow_deploycache_resolved_slots",
			Help: "Current number of resolved deployment slots",
		}),
	}

	reg.MustRegister(
		m.cacheHits,
		m.sharedResults,
		m.deploysStarted,
		m.deploysTotal,
		m.deployDuration,
		m.resolvedSlots,
	)

	return m
}

func (m *cacheMetrics) CacheHit(kind string) {
	m.cacheHits.WithLabelValues(kind).Inc()
}

func (m *cacheMetrics) SharedResult(kind string) {
	m.sharedResults.WithLabelValues(kind).Inc()
}

func (m *cacheMetrics) DeployStarted(kind string) {
	m.deploysStarted.WithLabelValues(kind).Inc()
}

func (m *cacheMetrics) DeployFinished(kind string, elapsed time.Duration, err error) {
	m.deploysTotal.WithLabelValues(kind, boolToStr(err == nil)).Inc()
	m.deployDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *cacheMetrics) ResolvedSlots(n int) {
	m.resolvedSlots.Set(float64(n))
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
