package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Warm cycle metrics
	warmCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachvoice_warm_cycles_total",
		Help: "Total number of warm cycles by outcome",
	}, []string{"outcome"}) // outcome: "full", "partial", "failed", "deferred", "skipped"

	warmDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coachvoice_warm_duration_seconds",
		Help:    "Duration of warm cycles in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	warmProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachvoice_warm_progress",
		Help: "Progress of the current warm cycle (0 to 1)",
	})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachvoice_synthesis_requests_total",
		Help: "Total number of synthesis requests",
	}, []string{"status"}) // status: "success" or error kind

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coachvoice_synthesis_latency_seconds",
		Help:    "Synthesis request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0},
	})

	// Cache metrics
	cachedPhrases = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachvoice_cached_phrases",
		Help: "Number of phrases currently backed by cached audio",
	})

	cacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachvoice_cache_reads_total",
		Help: "Total number of cache read attempts",
	}, []string{"result"}) // result: "hit" or "miss"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachvoice_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// RecordWarmCycle records the outcome and duration of a completed warm cycle
func RecordWarmCycle(outcome string, duration time.Duration) {
	warmCycles.WithLabelValues(outcome).Inc()
	warmDuration.Observe(duration.Seconds())
}

// RecordWarmDeferred records a warm cycle deferred for lack of connectivity
func RecordWarmDeferred() {
	warmCycles.WithLabelValues("deferred").Inc()
}

// RecordWarmSkipped records a warm call ignored because a cycle was already running
func RecordWarmSkipped() {
	warmCycles.WithLabelValues("skipped").Inc()
}

// SetWarmProgress publishes the current warm cycle progress
func SetWarmProgress(progress float64) {
	warmProgress.Set(progress)
}

// RecordSynthesis records a synthesis request result and its latency
func RecordSynthesis(status string, latency time.Duration) {
	synthesisRequests.WithLabelValues(status).Inc()
	synthesisLatency.Observe(latency.Seconds())
}

// SetCachedPhrases publishes the number of currently cached phrases
func SetCachedPhrases(n int) {
	cachedPhrases.Set(float64(n))
}

// RecordCacheRead records a cache read hit or miss
func RecordCacheRead(hit bool) {
	if hit {
		cacheReads.WithLabelValues("hit").Inc()
	} else {
		cacheReads.WithLabelValues("miss").Inc()
	}
}

// RecordError records an error by type and component
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
