package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medintake"

// Metrics 流水线监控指标
type Metrics struct {
	registry *prometheus.Registry

	// 图数据库语句执行
	StatementsTotal   *prometheus.CounterVec
	StatementDuration *prometheus.HistogramVec
	BatchesTotal      prometheus.Counter
	ZeroEffectTotal   prometheus.Counter

	// 抽取
	ExtractionsTotal   *prometheus.CounterVec
	ExtractionDuration prometheus.Histogram
	EnhanceTotal       *prometheus.CounterVec
	CasesTotal         *prometheus.CounterVec

	// LLM 调用
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec

	// 缓存
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// 对话
	DialogueTurnsTotal *prometheus.CounterVec

	hits   atomic.Int64
	misses atomic.Int64
}

var (
	instance *Metrics
	once     sync.Once
)

// NewMetrics returns the process-wide metrics set, creating it on first use.
func NewMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StatementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_statements_total",
			Help:      "Graph statements executed, by kind and result.",
		}, []string{"kind", "result"}),
		StatementDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_statement_duration_seconds",
			Help:      "Graph statement latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_batches_total",
			Help:      "Statement batches executed.",
		}),
		ZeroEffectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_zero_effect_total",
			Help:      "Statements that succeeded without changing the graph.",
		}),
		ExtractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction attempts by result.",
		}, []string{"result"}),
		ExtractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "End to end extraction latency.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		EnhanceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enhance_total",
			Help:      "Knowledge enhancement passes by result.",
		}, []string{"result"}),
		CasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cases_total",
			Help:      "Pipeline runs by status.",
		}, []string{"status"}),
		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Inference requests by provider, model and result.",
		}, []string{"provider", "model", "result"}),
		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Inference request latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits.",
		}, []string{"cache"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses.",
		}, []string{"cache"}),
		DialogueTurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogue_turns_total",
			Help:      "Dialogue turns by role.",
		}, []string{"role"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StatementsTotal, m.StatementDuration, m.BatchesTotal, m.ZeroEffectTotal,
		m.ExtractionsTotal, m.ExtractionDuration, m.EnhanceTotal, m.CasesTotal,
		m.LLMRequestsTotal, m.LLMRequestDuration,
		m.CacheHitsTotal, m.CacheMissesTotal,
		m.DialogueTurnsTotal,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// All Record* methods are safe on a nil receiver so callers can leave the
// metrics unset.

func (m *Metrics) RecordStatement(kind string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.StatementsTotal.WithLabelValues(kind, result(ok)).Inc()
	m.StatementDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) RecordBatch() {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
}

func (m *Metrics) RecordZeroEffect() {
	if m == nil {
		return
	}
	m.ZeroEffectTotal.Inc()
}

func (m *Metrics) RecordExtraction(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(result(ok)).Inc()
	m.ExtractionDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordEnhance(ok bool) {
	if m == nil {
		return
	}
	m.EnhanceTotal.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) RecordCase(status string) {
	if m == nil {
		return
	}
	m.CasesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordLLMRequest(provider, model string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(provider, model, result(ok)).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cache).Inc()
	m.hits.Add(1)
}

func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
	m.misses.Add(1)
}

// GetCacheHitRate 缓存命中率，无请求时为 0
func (m *Metrics) GetCacheHitRate() float64 {
	if m == nil {
		return 0
	}
	hits, misses := m.hits.Load(), m.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (m *Metrics) RecordTurn(role string) {
	if m == nil {
		return
	}
	m.DialogueTurnsTotal.WithLabelValues(role).Inc()
}

// Reset clears all vector metrics and the hit rate counters.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.StatementsTotal.Reset()
	m.StatementDuration.Reset()
	m.ExtractionsTotal.Reset()
	m.EnhanceTotal.Reset()
	m.CasesTotal.Reset()
	m.LLMRequestsTotal.Reset()
	m.LLMRequestDuration.Reset()
	m.CacheHitsTotal.Reset()
	m.CacheMissesTotal.Reset()
	m.DialogueTurnsTotal.Reset()
	m.hits.Store(0)
	m.misses.Store(0)
}
