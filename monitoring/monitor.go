package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Monitor samples run progress in the background and keeps the throughput
// and memory gauges current while metrics are being served.
type Monitor struct {
	mu        sync.RWMutex
	started   atomic.Bool
	bytes     int64
	batches   int64
	lastBatch time.Time
	startTime time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	// Sliding window of bytes per interval
	window      []int64
	windowSize  int
	windowIndex int

	updateInterval time.Duration
	sampleMemory   bool
}

// Option configures the monitor
type Option func(*Monitor)

// WithUpdateInterval sets the sampling interval
func WithUpdateInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		m.updateInterval = interval
	}
}

// WithMemorySampling enables the Go heap gauge
func WithMemorySampling(enabled bool) Option {
	return func(m *Monitor) {
		m.sampleMemory = enabled
	}
}

// New creates a new monitor
func New(opts ...Option) *Monitor {
	m := &Monitor{
		updateInterval: time.Second,
		windowSize:     10,
	}

	for _, opt := range opts {
		opt(m)
	}
	m.window = make([]int64, m.windowSize)

	return m
}

// Start starts the background sampler
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.startTime = time.Now()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop stops the sampler and waits for it to exit
func (m *Monitor) Stop() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}

	m.mu.RLock()
	cancel, done := m.cancel, m.done
	m.mu.RUnlock()

	cancel()
	<-done
}

// RecordBatch counts a written batch
func (m *Monitor) RecordBatch(bytes int64) {
	atomic.AddInt64(&m.bytes, bytes)
	atomic.AddInt64(&m.batches, 1)

	m.mu.Lock()
	m.lastBatch = time.Now()
	m.mu.Unlock()
}

// Stats contains monitor statistics
type Stats struct {
	Uptime     time.Duration
	Bytes      int64
	Batches    int64
	Throughput float64 // bytes per second
	LastBatch  time.Time
}

// GetStats returns current statistics
func (m *Monitor) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var uptime time.Duration
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime)
	}

	return Stats{
		Uptime:     uptime,
		Bytes:      atomic.LoadInt64(&m.bytes),
		Batches:    atomic.LoadInt64(&m.batches),
		Throughput: m.calculateThroughput(),
		LastBatch:  m.lastBatch,
	}
}

// calculateThroughput averages the non-empty window slots. Caller holds mu.
func (m *Monitor) calculateThroughput() float64 {
	total := int64(0)
	count := 0

	for _, v := range m.window {
		if v > 0 {
			total += v
			count++
		}
	}

	if count == 0 {
		return 0
	}

	return float64(total) / float64(count) / m.updateInterval.Seconds()
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.updateInterval)
	defer ticker.Stop()

	last := int64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(&last)
		}
	}
}

// sample moves the window forward by one interval
func (m *Monitor) sample(last *int64) {
	current := atomic.LoadInt64(&m.bytes)
	interval := current - *last
	*last = current

	m.mu.Lock()
	m.window[m.windowIndex] = interval
	m.windowIndex = (m.windowIndex + 1) % m.windowSize
	throughput := m.calculateThroughput()
	m.mu.Unlock()

	UpdateThroughput(throughput)

	if m.sampleMemory {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		// #nosec G115 - heap size fits in int64
		UpdateMemoryUsage(int64(memStats.HeapAlloc))
	}
}
