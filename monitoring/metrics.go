// Package monitoring provides Prometheus metrics for benchmark runs.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BatchWriteLatency tracks the duration of each Writer.Write call.
	BatchWriteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storagebench_batch_write_duration_seconds",
		Help:    "Batch write latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 20), // 10us to 5s
	}, []string{"storage_id"})

	// BytesWritten tracks payload bytes handed to the writer.
	BytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storagebench_bytes_written_total",
		Help: "Total payload bytes written",
	}, []string{"storage_id"})

	// MessagesWritten tracks messages handed to the writer.
	MessagesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storagebench_messages_written_total",
		Help: "Total messages written",
	}, []string{"storage_id"})

	// Batches tracks batch writes by outcome.
	Batches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storagebench_batches_total",
		Help: "Total number of batch writes",
	}, []string{"storage_id", "status"})

	// CloseDuration holds the close time of the last run.
	CloseDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storagebench_close_duration_seconds",
		Help: "Writer close duration of the last run in seconds",
	}, []string{"storage_id"})

	// HeapDelta holds the allocator delta after the last batch.
	HeapDelta = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storagebench_heap_delta_bytes",
		Help: "Allocator change since the baseline snapshot",
	}, []string{"kind"})

	// Throughput tracks the recent write rate.
	Throughput = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storagebench_throughput_bytes_per_second",
		Help: "Bytes written per second over the monitor window",
	})

	// MemoryUsage tracks the Go heap in use.
	MemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storagebench_memory_usage_bytes",
		Help: "Current Go heap allocation in bytes",
	})
)

// RecordBatch records one batch write
func RecordBatch(storageID string, bytes int64, messages int, duration time.Duration, success bool) {
	status := "success"
	if !success {
		Batches.WithLabelValues(storageID, "failure").Inc()
		return
	}
	BatchWriteLatency.WithLabelValues(storageID).Observe(duration.Seconds())
	BytesWritten.WithLabelValues(storageID).Add(float64(bytes))
	MessagesWritten.WithLabelValues(storageID).Add(float64(messages))
	Batches.WithLabelValues(storageID, status).Inc()
}

// RecordClose records the writer close time
func RecordClose(storageID string, duration time.Duration) {
	CloseDuration.WithLabelValues(storageID).Set(duration.Seconds())
}

// UpdateHeapDelta updates the allocator delta gauges
func UpdateHeapDelta(arena, inUse, mmap int64) {
	HeapDelta.WithLabelValues("arena").Set(float64(arena))
	HeapDelta.WithLabelValues("in_use").Set(float64(inUse))
	HeapDelta.WithLabelValues("mmap").Set(float64(mmap))
}

// UpdateThroughput updates the throughput gauge
func UpdateThroughput(bytesPerSecond float64) {
	Throughput.Set(bytesPerSecond)
}

// UpdateMemoryUsage updates the memory gauge
func UpdateMemoryUsage(bytes int64) {
	MemoryUsage.Set(float64(bytes))
}

// Server exposes /metrics over HTTP.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts serving the default registry on addr. Use ":0" for an
// ephemeral port.
func Serve(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
