// Package metrics provides Prometheus metrics for the zikir counter service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the zikir service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	constLabels      map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Counter business metrics
	countsApplied     *prometheus.CounterVec
	bulkApplied       prometheus.Counter
	bulkDuplicates    prometheus.Counter
	leaderboardBuilds prometheus.Counter
	countRejections   *prometheus.CounterVec

	// Store metrics
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Realtime metrics
	wsConnections     prometheus.Gauge
	wsRooms           prometheus.Gauge
	wsMessagesSent    prometheus.Counter
	wsSlowConsumers   prometheus.Counter
	broadcastsTotal   prometheus.Counter
	broadcastFanout   prometheus.Histogram
	relayPublished    prometheus.Counter
	relayReceived     prometheus.Counter
	relayErrors       prometheus.Counter
	clientSyncRuns    *prometheus.CounterVec
	clientSyncApplied prometheus.Counter

	// Dispatch queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// The package manager behind the Record and Update helpers, and the
// registry /metrics serves. Configure swaps both.
var (
	globalManager  atomic.Pointer[Manager]             //nolint:gochecknoglobals // singleton metrics manager
	customRegistry atomic.Pointer[prometheus.Registry] //nolint:gochecknoglobals // metrics registry
)

func init() { //nolint:gochecknoinits // global metrics setup
	Configure()
}

// NewManager builds a Manager and, unless it is disabled, registers its
// collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "zikir",
		subsystem:        "counter",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.enabled {
		m.initializeMetrics()
	}
	return m
}

// Enabled reports whether the package manager records anything.
func Enabled() bool {
	return active() != nil
}

// active returns the package manager, or nil while recording is off.
func active() *Manager {
	if m := globalManager.Load(); m != nil && m.enabled {
		return m
	}
	return nil
}

func (m *Manager) name(n string) string {
	if m.metricPrefix != "" {
		return m.metricPrefix + "_" + n
	}
	return n
}

func (m *Manager) counter(n, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(n, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(n, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(n, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(n, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(n), Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	m.countsApplied = m.counterVec("counts_applied_total", "Taps applied to live counters by path (single, bulk)", "path")
	m.bulkApplied = m.counter("bulk_applied_total", "Offline taps newly applied by bulk reconciliation")
	m.bulkDuplicates = m.counter("bulk_duplicates_total", "Offline taps skipped because their id was already applied")
	m.leaderboardBuilds = m.counter("leaderboard_builds_total", "Leaderboard snapshots ranked")
	m.countRejections = m.counterVec("count_rejections_total", "Count requests refused by reason", "reason")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Counter store operation latency", "backend", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Counter store operation failures", "backend", "op")

	m.wsConnections = m.gauge("ws_connections", "Live websocket connections joined to a room")
	m.wsRooms = m.gauge("ws_rooms", "Rooms with at least one live connection")
	m.wsMessagesSent = m.counter("ws_messages_enqueued_total", "Messages handed to connection send buffers")
	m.wsSlowConsumers = m.counter("ws_slow_consumer_drops_total", "Connections dropped because their send buffer was full")
	m.broadcastsTotal = m.counter("broadcasts_total", "Room broadcasts published")
	m.broadcastFanout = m.histogram("broadcast_fanout", "Connections reached per broadcast",
		[]float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000})
	m.relayPublished = m.counter("relay_published_total", "Room events published to the cross-instance relay")
	m.relayReceived = m.counter("relay_received_total", "Room events received from the cross-instance relay")
	m.relayErrors = m.counter("relay_errors_total", "Relay publish or decode failures")
	m.clientSyncRuns = m.counterVec("client_sync_runs_total", "Client reconciliation passes by outcome", "state")
	m.clientSyncApplied = m.counter("client_sync_counts_total", "Offline taps confirmed by the server during client sync")

	m.queueSize = m.gauge("queue_size", "Current size of the dispatch queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum dispatch queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Dispatch queue utilization ratio (size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of room events enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of room events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue failures")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Enqueue latency in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Number of dispatch workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Time to rank and publish one room event", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Total number of dispatch worker errors")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordCountApplied adds n applied taps for the given path ("single" or "bulk").
func RecordCountApplied(path string, n int) {
	m := active()
	if m == nil || n <= 0 {
		return
	}
	m.countsApplied.WithLabelValues(path).Add(float64(n))
}

// RecordBulkResult records the outcome of one bulk reconciliation.
func RecordBulkResult(applied, duplicates int) {
	if m := active(); m != nil {
		m.bulkApplied.Add(float64(applied))
		m.bulkDuplicates.Add(float64(duplicates))
	}
}

// RecordLeaderboardBuild increments the ranked snapshot counter.
func RecordLeaderboardBuild() {
	if m := active(); m != nil {
		m.leaderboardBuilds.Inc()
	}
}

// RecordCountRejected counts a refused count request.
func RecordCountRejected(reason string) {
	if m := active(); m != nil {
		m.countRejections.WithLabelValues(reason).Inc()
	}
}

// RecordStoreLatency records one store operation latency in milliseconds.
func RecordStoreLatency(backend, op string, latencyMs float64) {
	if m := active(); m != nil {
		m.storeLatency.WithLabelValues(backend, op).Observe(latencyMs)
	}
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(backend, op string) {
	if m := active(); m != nil {
		m.storeErrors.WithLabelValues(backend, op).Inc()
	}
}

// UpdateWSConnections sets the live connection count.
func UpdateWSConnections(n int) {
	if m := active(); m != nil {
		m.wsConnections.Set(float64(n))
	}
}

// UpdateWSRooms sets the number of rooms with live connections.
func UpdateWSRooms(n int) {
	if m := active(); m != nil {
		m.wsRooms.Set(float64(n))
	}
}

// RecordBroadcast records a publish that reached fanout connections.
func RecordBroadcast(fanout int) {
	if m := active(); m != nil {
		m.broadcastsTotal.Inc()
		m.broadcastFanout.Observe(float64(fanout))
		m.wsMessagesSent.Add(float64(fanout))
	}
}

// RecordSlowConsumerDrop counts a connection dropped on a full buffer.
func RecordSlowConsumerDrop() {
	if m := active(); m != nil {
		m.wsSlowConsumers.Inc()
	}
}

// RecordRelayPublished counts an event sent to the relay.
func RecordRelayPublished() {
	if m := active(); m != nil {
		m.relayPublished.Inc()
	}
}

// RecordRelayReceived counts an event received from the relay.
func RecordRelayReceived() {
	if m := active(); m != nil {
		m.relayReceived.Inc()
	}
}

// RecordRelayError counts a relay failure.
func RecordRelayError() {
	if m := active(); m != nil {
		m.relayErrors.Inc()
	}
}

// RecordClientSync records one client reconciliation pass.
func RecordClientSync(state string, synced int) {
	m := active()
	if m == nil {
		return
	}
	m.clientSyncRuns.WithLabelValues(state).Inc()
	if synced > 0 {
		m.clientSyncApplied.Add(float64(synced))
	}
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if m := active(); m != nil {
		m.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if m := active(); m != nil {
		m.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	if m := active(); m != nil {
		m.queueUtilization.Set(utilization)
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if m := active(); m != nil {
		m.queueEnqueueRate.Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if m := active(); m != nil {
		m.queueDequeueRate.Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if m := active(); m != nil {
		m.queueEnqueueErrors.Inc()
	}
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	if m := active(); m != nil {
		m.queueProcessingLatency.Observe(latencyMs)
	}
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	if m := active(); m != nil {
		m.workerActiveCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if m := active(); m != nil {
		m.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if m := active(); m != nil {
		m.workerErrorRate.Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if m := active(); m != nil {
		m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if m := active(); m != nil {
		m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if m := active(); m != nil {
		m.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	if m := active(); m != nil {
		m.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if m := active(); m != nil {
		m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	if m := active(); m != nil {
		m.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
	}
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if m := active(); m != nil {
		m.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if m := active(); m != nil {
		m.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if m := active(); m != nil {
		m.systemGCPauseTime.Observe(pauseMs)
	}
}

// RefreshInterval reports how often periodic gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.Load().refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry.Load()
}
