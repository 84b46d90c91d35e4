package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reconciliation refresh triggers.
const (
	RefreshTriggerInitial  = "initial"
	RefreshTriggerDebounce = "debounce"
	RefreshTriggerPeriodic = "periodic"
)

// MetricsService encapsulates Prometheus instrumentation for the timetable engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	placementDecisions *prometheus.CounterVec
	labRuns            *prometheus.CounterVec
	labDuration        prometheus.Observer
	labRows            prometheus.Gauge
	labCollisions      prometheus.Gauge
	reconcileRefreshes *prometheus.CounterVec
	changeEvents       *prometheus.CounterVec
	openViews          prometheus.Gauge

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors on a private registry.
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	placementDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_placement_decisions_total",
		Help: "Placement checks by result and rejection reason",
	}, []string{"result", "reason"})

	labRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lab_schedule_regenerations_total",
		Help: "Lab schedule regeneration runs by outcome",
	}, []string{"outcome"})

	labDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lab_schedule_regeneration_seconds",
		Help:    "Duration of lab schedule regeneration runs",
		Buckets: prometheus.DefBuckets,
	})

	labRows := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lab_schedule_rows",
		Help: "Rows in the last committed lab schedule set",
	})

	labCollisions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lab_schedule_collisions",
		Help: "Teacher or room double-bookings found in the last generated set",
	})

	reconcileRefreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_reconcile_refreshes_total",
		Help: "Full timetable refreshes by trigger and outcome",
	}, []string{"trigger", "outcome"})

	changeEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_change_events_total",
		Help: "Lesson change events by direction and type",
	}, []string{"direction", "type"})

	openViews := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timetable_open_views",
		Help: "Timetables with a running reconciliation loop",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		placementDecisions, labRuns, labDuration, labRows, labCollisions, reconcileRefreshes, changeEvents, openViews, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		placementDecisions: placementDecisions,
		labRuns:            labRuns,
		labDuration:        labDuration,
		labRows:            labRows,
		labCollisions:      labCollisions,
		reconcileRefreshes: reconcileRefreshes,
		changeEvents:       changeEvents,
		openViews:          openViews,
	}
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

// Registry exposes the private registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordPlacement counts a conflict-detector decision.
func (m *MetricsService) RecordPlacement(allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.placementDecisions.WithLabelValues(result, reason).Inc()
}

// RecordLabRegeneration records one regeneration run. Rows and collisions only update on success.
func (m *MetricsService) RecordLabRegeneration(outcome string, duration time.Duration, rows, collisions int) {
	if m == nil {
		return
	}
	m.labRuns.WithLabelValues(outcome).Inc()
	m.labDuration.Observe(duration.Seconds())
	if outcome == "success" {
		m.labRows.Set(float64(rows))
		m.labCollisions.Set(float64(collisions))
	}
}

// RecordRefresh counts a full timetable refresh.
func (m *MetricsService) RecordRefresh(trigger, outcome string) {
	if m == nil {
		return
	}
	m.reconcileRefreshes.WithLabelValues(trigger, outcome).Inc()
}

// RecordChangeEvent counts a published or received change event.
func (m *MetricsService) RecordChangeEvent(direction, changeType string) {
	if m == nil {
		return
	}
	m.changeEvents.WithLabelValues(direction, changeType).Inc()
}

// SetOpenViews reports the number of live reconciliation loops.
func (m *MetricsService) SetOpenViews(n int) {
	if m == nil {
		return
	}
	m.openViews.Set(float64(n))
}
