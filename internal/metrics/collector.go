// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Embedding lookup outcomes.
const (
	EmbeddingHit       = "hit"
	EmbeddingSharedHit = "shared_hit"
	EmbeddingMiss      = "miss"
	EmbeddingDegraded  = "degraded"
)

// Collector gathers prometheus metrics for the memory engine.
//
// A nil *Collector is valid and records nothing.
type Collector struct {
	embeddingRequests *prometheus.CounterVec
	storageErrors     *prometheus.CounterVec
	retrieveDuration  *prometheus.HistogramVec
	retrieveResults   *prometheus.HistogramVec
	cleanupDeleted    *prometheus.CounterVec
	patternObserved   *prometheus.CounterVec
	knowledgeOutcomes *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered with reg.
//
// A nil registerer creates unregistered metrics, which keeps tests from
// colliding on the global registry.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.embeddingRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding lookups by outcome",
		},
		[]string{"result"},
	)

	c.storageErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Storage operations that failed",
		},
		[]string{"operation"},
	)

	c.retrieveDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieve_duration_seconds",
			Help:      "Memory retrieve latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"domain"},
	)

	c.retrieveResults = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieve_results",
			Help:      "Number of memories returned per retrieve",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"domain"},
	)

	c.cleanupDeleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Memories removed by retention cleanup",
		},
		[]string{"table", "reason"},
	)

	c.patternObserved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_observations_total",
			Help:      "Behavioural pattern observations",
		},
		[]string{"domain", "kind"},
	)

	c.knowledgeOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_outcomes_total",
			Help:      "Task outcomes processed by the knowledge store",
		},
		[]string{"result"},
	)

	return c
}

// RecordEmbedding counts one embedding lookup.
func (c *Collector) RecordEmbedding(result string) {
	if c == nil {
		return
	}
	c.embeddingRequests.WithLabelValues(result).Inc()
}

// RecordStorageError counts a failed storage operation.
func (c *Collector) RecordStorageError(op string) {
	if c == nil {
		return
	}
	c.storageErrors.WithLabelValues(op).Inc()
}

// RecordRetrieve observes latency and result count of a retrieve.
func (c *Collector) RecordRetrieve(domain string, duration time.Duration, results int) {
	if c == nil {
		return
	}
	c.retrieveDuration.WithLabelValues(domain).Observe(duration.Seconds())
	c.retrieveResults.WithLabelValues(domain).Observe(float64(results))
}

// RecordCleanup counts memories deleted by cleanup.
func (c *Collector) RecordCleanup(table, reason string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.cleanupDeleted.WithLabelValues(table, reason).Add(float64(n))
}

// RecordPatternObservation counts an observation; kind is "new" or "reinforced".
func (c *Collector) RecordPatternObservation(domain, kind string) {
	if c == nil {
		return
	}
	c.patternObserved.WithLabelValues(domain, kind).Inc()
}

// RecordKnowledgeOutcome counts a processed task outcome.
func (c *Collector) RecordKnowledgeOutcome(result string) {
	if c == nil {
		return
	}
	c.knowledgeOutcomes.WithLabelValues(result).Inc()
}
