// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 检索引擎指标收集器
type Collector struct {
	// 查询指标
	queriesTotal      *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	degradesTotal     prometheus.Counter

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 摄取指标
	documentsIngested prometheus.Counter
	chunksProduced    prometheus.Counter
	embeddingDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建指标收集器并注册到指定 registry。
// 测试中传入独立 registry 避免重复注册冲突。
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 查询指标
	c.queriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of retrieval queries by type and complexity",
		},
		[]string{"query_type", "complexity"},
	)

	c.retrievalDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval duration in seconds by mode",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"mode"},
	)

	c.degradesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degrades_total",
			Help:      "Total number of retrievals served by the degraded dense-only path",
		},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// 摄取指标
	c.documentsIngested = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Total number of documents ingested",
		},
	)

	c.chunksProduced = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_produced_total",
			Help:      "Total number of chunks produced by ingestion",
		},
	)

	c.embeddingDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embedding_duration_seconds",
			Help:      "Embedding call duration in seconds by status",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"status"},
	)

	return c
}

// RecordQuery 记录一次查询及其分析结果
func (c *Collector) RecordQuery(queryType, complexity string) {
	c.queriesTotal.WithLabelValues(queryType, complexity).Inc()
}

// RecordRetrieval 记录一次检索耗时
func (c *Collector) RecordRetrieval(mode string, duration time.Duration) {
	c.retrievalDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordDegrade 记录一次降级检索
func (c *Collector) RecordDegrade() {
	c.degradesTotal.Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cache string) {
	c.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordIngestion 记录一次文档摄取
func (c *Collector) RecordIngestion(chunks int) {
	c.documentsIngested.Inc()
	c.chunksProduced.Add(float64(chunks))
}

// RecordEmbedding 记录一次嵌入调用
func (c *Collector) RecordEmbedding(status string, duration time.Duration) {
	c.embeddingDuration.WithLabelValues(status).Observe(duration.Seconds())
}
