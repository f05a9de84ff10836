package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

// MetricsService owns the agent's Prometheus registry.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	scans           *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	remoteDuration  *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec

	requestCount     uint64
	verifiedCount    uint64
	cacheHitCount    uint64
	cacheMissCount   uint64
	remoteErrorCount uint64
}

// NewMetricsService registers the agent collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "card_verifications_total",
		Help: "Card verification outcomes",
	}, []string{"status", "kind"})

	scans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "card_scans_total",
		Help: "Scan events by channel and status",
	}, []string{"channel", "status"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by cache and result",
	}, []string{"cache", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"cache", "op"})

	remoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remote_call_duration_seconds",
		Help:    "Latency of remote batch service calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_submissions_total",
		Help: "Scanning session submissions by result",
	}, []string{"result"})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_events_total",
		Help: "Verification events delivered by sink and result",
	}, []string{"sink", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, verifications, scans, cacheLookups, cacheLatency, remoteDuration, submissions, eventsPublished, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		verifications:   verifications,
		scans:           scans,
		cacheLookups:    cacheLookups,
		cacheLatency:    cacheLatency,
		remoteDuration:  remoteDuration,
		submissions:     submissions,
		eventsPublished: eventsPublished,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordVerification counts a verification outcome.
func (m *MetricsService) RecordVerification(outcome models.VerificationOutcome) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(string(outcome.Status), string(outcome.Kind)).Inc()
	if outcome.Status == models.VerificationVerified {
		atomic.AddUint64(&m.verifiedCount, 1)
	}
}

// RecordScan counts a scan event.
func (m *MetricsService) RecordScan(channel string, status models.ScanStatus) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(channel, string(status)).Inc()
}

// RecordCacheOperation records a lookup against the named cache.
func (m *MetricsService) RecordCacheOperation(cache string, hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
	m.cacheLatency.WithLabelValues(cache, "get").Observe(duration.Seconds())
}

// RecordCacheRefreshFailure notes a failed refresh, labelled by cause.
func (m *MetricsService) RecordCacheRefreshFailure(cache, cause string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(cache, cause).Inc()
}

// ObserveCacheWrite tracks the duration for cache writes.
func (m *MetricsService) ObserveCacheWrite(cache string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues(cache, "set").Observe(duration.Seconds())
}

// ObserveRemoteCall implements remote.Observer.
func (m *MetricsService) ObserveRemoteCall(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.remoteDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
	if result != "ok" {
		atomic.AddUint64(&m.remoteErrorCount, 1)
	}
}

// RecordSubmission counts a session submission attempt.
func (m *MetricsService) RecordSubmission(success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "submitted"
	}
	m.submissions.WithLabelValues(result).Inc()
}

// RecordEvent counts a verification event delivery attempt.
func (m *MetricsService) RecordEvent(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(sink, result).Inc()
}

// Snapshot returns aggregated counters for the health endpoint.
func (m *MetricsService) Snapshot() models.MetricsSnapshot {
	if m == nil {
		return models.MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	var ratio float64
	if hits+misses > 0 {
		ratio = float64(hits) / float64(hits+misses)
	}
	return models.MetricsSnapshot{
		RequestsTotal:  atomic.LoadUint64(&m.requestCount),
		CardsVerified:  atomic.LoadUint64(&m.verifiedCount),
		CacheHits:      hits,
		CacheMisses:    misses,
		CacheHitRatio:  ratio,
		RemoteFailures: atomic.LoadUint64(&m.remoteErrorCount),
		Goroutines:     runtime.NumGoroutine(),
		GeneratedAt:    time.Now().UTC(),
	}
}
