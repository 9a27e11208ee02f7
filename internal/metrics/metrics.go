// Package metrics provides Prometheus metrics for the Dspace server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dspace_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Chunk transport metrics
	chunkUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_chunk_uploads_total",
			Help: "Total number of chunk uploads by final outcome",
		},
		[]string{"status"},
	)

	chunkUploadRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dspace_chunk_upload_retries_total",
			Help: "Total number of retried chunk upload attempts",
		},
	)

	chunkDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_chunk_downloads_total",
			Help: "Total number of chunk downloads by outcome",
		},
		[]string{"status"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dspace_chunk_bytes_uploaded_total",
			Help: "Total bytes posted to the transport",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dspace_chunk_bytes_downloaded_total",
			Help: "Total bytes fetched from the transport",
		},
	)

	chunkTransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dspace_chunk_transfer_duration_seconds",
			Help:    "Duration of a single chunk upload or download including retries",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"direction"},
	)

	channelSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_channel_selections_total",
			Help: "Number of times each transport channel was handed out by the pool",
		},
		[]string{"channel"},
	)

	// Session metrics
	virtualDirectorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dspace_virtual_directory_size",
			Help: "Number of nodes in the most recently saved virtual directory",
		},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dspace_store_operation_duration_seconds",
			Help:    "Directory store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_store_operations_total",
			Help: "Total directory store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	storeConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dspace_store_version_conflicts_total",
			Help: "Total optimistic concurrency conflicts while saving a virtual directory",
		},
	)

	// Transport session metrics
	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_transport_login_attempts_total",
			Help: "Total transport login attempts",
		},
		[]string{"result"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dspace_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordChunkUpload records the final outcome of a chunk upload.
func RecordChunkUpload(bytes int, duration time.Duration, success bool) {
	chunkUploadsTotal.WithLabelValues(status(success)).Inc()
	chunkTransferDuration.WithLabelValues("upload").Observe(duration.Seconds())
	if success {
		bytesUploaded.Add(float64(bytes))
	}
}

// RecordChunkRetry records a retried chunk upload attempt.
func RecordChunkRetry() {
	chunkUploadRetries.Inc()
}

// RecordChunkDownload records a chunk download.
func RecordChunkDownload(bytes int, duration time.Duration, success bool) {
	chunkDownloadsTotal.WithLabelValues(status(success)).Inc()
	chunkTransferDuration.WithLabelValues("download").Observe(duration.Seconds())
	if success {
		bytesDownloaded.Add(float64(bytes))
	}
}

// RecordChannelSelection records a channel handed out by the round-robin pool.
func RecordChannelSelection(channelID string) {
	channelSelections.WithLabelValues(channelID).Inc()
}

// SetVirtualDirectorySize sets the node count of the last saved tree.
func SetVirtualDirectorySize(size int) {
	virtualDirectorySize.Set(float64(size))
}

// RecordStoreOperation records a directory store operation.
func RecordStoreOperation(backend, operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordStoreConflict records an optimistic concurrency conflict.
func RecordStoreConflict() {
	storeConflictsTotal.Inc()
}

// RecordLoginAttempt records a transport login attempt.
func RecordLoginAttempt(success bool) {
	loginAttemptsTotal.WithLabelValues(status(success)).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns HTTP middleware that records request metrics.
// The route pattern is used as the path label to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
