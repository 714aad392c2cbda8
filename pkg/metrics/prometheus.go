// Package metrics provides Prometheus metrics for the livetables sync client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Coordinator states exported on the state gauge. Kept in sync with
// coordinator.State names; the metrics package must not import it.
var coordinatorStates = []string{"idle", "stream_preferred", "stream_active", "polling_fallback", "reconnect_backoff"} //nolint:gochecknoglobals // fixed label set

// Manager manages all Prometheus metrics for the sync client.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Pipeline Metrics - What flows from the transports into the store
	batchesReceived    *prometheus.CounterVec
	entitiesChanged    *prometheus.CounterVec
	observations       *prometheus.CounterVec
	entitiesMalformed  prometheus.Counter
	storeEntities      prometheus.Gauge
	storeApplyLatency  prometheus.Histogram
	lastAcceptedUnix   prometheus.Gauge

	// Transport Metrics
	transportErrors   *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	heartbeats        prometheus.Counter
	polls             *prometheus.CounterVec
	pollLatency       prometheus.Histogram
	forcedRefreshes   *prometheus.CounterVec
	healthForced      prometheus.Counter

	// Coordinator Health Metrics
	coordinatorState *prometheus.GaugeVec
	degraded         prometheus.Gauge
	streamConnected  prometheus.Gauge

	// Dispatch Metrics - Subscription hub fan-out
	subscriptions       prometheus.Gauge
	dispatchCapacity    prometheus.Gauge
	dispatchQueueSize   prometheus.Gauge
	dispatchEnqueued    prometheus.Counter
	dispatchDequeued    prometheus.Counter
	dispatchDropped     prometheus.Counter
	callbackErrors      *prometheus.CounterVec
	callbackLatency     prometheus.Histogram
	dispatchWorkerCount prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewMetricsManager(WithPrometheusRegistry(customRegistry))
}

// NewMetricsManager creates a new metrics manager with default configuration.
func NewMetricsManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "livetables",
		subsystem:        "sync",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.customLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels,
		})
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: constLabels, Buckets: buckets,
		})
	}

	// Pipeline Metrics
	m.batchesReceived = counterVec("batches_received_total", "Update batches received by source", "source")
	m.entitiesChanged = counterVec("entities_changed_total", "Entities mutated by accepted batches", "source")
	m.observations = counterVec("observations_total", "Observations seen by the deduplicator, by verdict", "verdict")
	m.entitiesMalformed = counter("entities_malformed_total", "Entity snapshots dropped for a missing id")
	m.storeEntities = gauge("store_entities", "Entities currently held by the store")
	m.storeApplyLatency = histogram("store_apply_latency_milliseconds", "Latency of applying one batch to the store", m.histogramBuckets)
	m.lastAcceptedUnix = gauge("last_accepted_unix", "Unix timestamp of the last accepted batch")

	// Transport Metrics
	m.transportErrors = counterVec("transport_errors_total", "Transport failures by source and kind", "source", "kind")
	m.reconnectAttempts = counter("stream_reconnect_attempts_total", "Stream reconnect attempts")
	m.heartbeats = counter("stream_heartbeats_total", "Stream heartbeats received")
	m.polls = counterVec("polls_total", "Poll cycles by trigger and outcome", "trigger", "outcome")
	m.pollLatency = histogram("poll_latency_milliseconds", "Poll request latency in milliseconds",
		[]float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000})
	m.forcedRefreshes = counterVec("forced_refreshes_total", "Forced refresh requests by result", "result")
	m.healthForced = counter("health_forced_total", "Reconnects forced by the stale-data health check")

	// Coordinator Health Metrics
	m.coordinatorState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("coordinator_state"),
		Help: "Current coordinator state (1 for the active state)", ConstLabels: constLabels,
	}, []string{"state"})
	m.degraded = gauge("degraded", "1 when the stream keeps failing at the backoff cap")
	m.streamConnected = gauge("stream_connected", "1 while the stream transport is connected")

	// Dispatch Metrics
	m.subscriptions = gauge("subscriptions", "Registered subscriber callbacks")
	m.dispatchCapacity = gauge("dispatch_queue_capacity", "Maximum dispatch queue capacity")
	m.dispatchQueueSize = gauge("dispatch_queue_size", "Notifications waiting for dispatch")
	m.dispatchEnqueued = counter("dispatch_enqueued_total", "Notifications enqueued for dispatch")
	m.dispatchDequeued = counter("dispatch_dequeued_total", "Notifications taken by dispatch workers")
	m.dispatchDropped = counter("dispatch_dropped_total", "Notifications dropped because the queue was full or closed")
	m.callbackErrors = counterVec("callback_errors_total", "Subscriber callback failures", "kind")
	m.callbackLatency = histogram("callback_latency_milliseconds", "Subscriber callback latency in milliseconds", m.histogramBuckets)
	m.dispatchWorkerCount = gauge("dispatch_workers", "Running dispatch workers")

	// HTTP Performance Metrics
	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("http_request_duration_milliseconds"),
		Help: "HTTP request duration in milliseconds", ConstLabels: constLabels, Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	// Error Metrics
	m.errorRateByComponent = counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByEndpoint = counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")

	// System Performance Metrics
	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Pipeline Metrics Functions.

// RecordBatchReceived counts one batch from source.
func RecordBatchReceived(source string) {
	globalManager.batchesReceived.WithLabelValues(source).Inc()
}

// RecordEntitiesChanged counts entities mutated by a batch from source.
func RecordEntitiesChanged(source string, n int) {
	globalManager.entitiesChanged.WithLabelValues(source).Add(float64(n))
}

// RecordObservations counts n observations with the given dedupe verdict.
func RecordObservations(verdict string, n int) {
	if n <= 0 {
		return
	}
	globalManager.observations.WithLabelValues(verdict).Add(float64(n))
}

// RecordEntityMalformed counts one entity snapshot dropped for a missing id.
func RecordEntityMalformed() {
	globalManager.entitiesMalformed.Inc()
}

// UpdateStoreEntities sets the number of entities held by the store.
func UpdateStoreEntities(count int) {
	globalManager.storeEntities.Set(float64(count))
}

// RecordStoreApplyLatency records how long a batch took to apply.
func RecordStoreApplyLatency(latencyMs float64) {
	globalManager.storeApplyLatency.Observe(latencyMs)
}

// UpdateLastAccepted records the time of the last accepted batch.
func UpdateLastAccepted(t time.Time) {
	globalManager.lastAcceptedUnix.Set(float64(t.Unix()))
}

// Transport Metrics Functions.

// RecordTransportError counts a transport failure.
func RecordTransportError(source, kind string) {
	globalManager.transportErrors.WithLabelValues(source, kind).Inc()
}

// RecordReconnectAttempt counts a stream reconnect attempt.
func RecordReconnectAttempt() {
	globalManager.reconnectAttempts.Inc()
}

// RecordHeartbeat counts a stream heartbeat.
func RecordHeartbeat() {
	globalManager.heartbeats.Inc()
}

// RecordPoll counts a poll cycle.
func RecordPoll(trigger, outcome string) {
	globalManager.polls.WithLabelValues(trigger, outcome).Inc()
}

// RecordPollLatency records poll request latency in milliseconds.
func RecordPollLatency(latencyMs float64) {
	globalManager.pollLatency.Observe(latencyMs)
}

// RecordForcedRefresh counts a forced refresh request by result.
func RecordForcedRefresh(result string) {
	globalManager.forcedRefreshes.WithLabelValues(result).Inc()
}

// RecordHealthForced counts a reconnect forced by the health check.
func RecordHealthForced() {
	globalManager.healthForced.Inc()
}

// Coordinator Health Metrics Functions.

// UpdateCoordinatorState marks state as the active coordinator state.
func UpdateCoordinatorState(state string) {
	for _, s := range coordinatorStates {
		v := 0.0
		if s == state {
			v = 1
		}
		globalManager.coordinatorState.WithLabelValues(s).Set(v)
	}
}

// UpdateDegraded sets the degraded flag.
func UpdateDegraded(degraded bool) {
	globalManager.degraded.Set(boolToFloat(degraded))
}

// UpdateStreamConnected sets the stream connected flag.
func UpdateStreamConnected(connected bool) {
	globalManager.streamConnected.Set(boolToFloat(connected))
}

// Dispatch Metrics Functions.

// UpdateSubscriptions sets the number of registered callbacks.
func UpdateSubscriptions(count int) {
	globalManager.subscriptions.Set(float64(count))
}

// UpdateDispatchCapacity sets the dispatch queue capacity.
func UpdateDispatchCapacity(capacity int) {
	globalManager.dispatchCapacity.Set(float64(capacity))
}

// UpdateDispatchQueueSize sets the number of pending notifications.
func UpdateDispatchQueueSize(size int) {
	globalManager.dispatchQueueSize.Set(float64(size))
}

// RecordDispatchEnqueue counts an enqueued notification.
func RecordDispatchEnqueue() {
	globalManager.dispatchEnqueued.Inc()
}

// RecordDispatchDequeue counts a dequeued notification.
func RecordDispatchDequeue() {
	globalManager.dispatchDequeued.Inc()
}

// RecordDispatchDropped counts a dropped notification.
func RecordDispatchDropped() {
	globalManager.dispatchDropped.Inc()
}

// RecordCallbackError counts a failing callback; kind is "error" or "panic".
func RecordCallbackError(kind string) {
	globalManager.callbackErrors.WithLabelValues(kind).Inc()
}

// RecordCallbackLatency records callback latency in milliseconds.
func RecordCallbackLatency(latencyMs float64) {
	globalManager.callbackLatency.Observe(latencyMs)
}

// UpdateDispatchWorkers sets the number of running dispatch workers.
func UpdateDispatchWorkers(count int) {
	globalManager.dispatchWorkerCount.Set(float64(count))
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
