package observability

import (
	"sync"
	"time"
)

// MetricsClient defines the interface for metrics collection
type MetricsClient interface {
	RecordCounter(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordLatency(operation string, duration time.Duration)
	RecordCacheOperation(operation string, hit bool, durationSeconds float64)
	RecordOperation(component string, operation string, success bool, durationSeconds float64)
	Close() error
}

// InMemoryMetricsClient accumulates metrics in memory. It is the default
// client for library consumers that do not plug in their own backend, and
// doubles as the assertion point in tests.
type InMemoryMetricsClient struct {
	mu        sync.RWMutex
	counters  map[string]float64
	gauges    map[string]float64
	latencies map[string][]time.Duration
}

// NewMetricsClient creates a new in-memory metrics client
func NewMetricsClient() *InMemoryMetricsClient {
	return &InMemoryMetricsClient{
		counters:  make(map[string]float64),
		gauges:    make(map[string]float64),
		latencies: make(map[string][]time.Duration),
	}
}

// RecordCounter increments a counter by value
func (m *InMemoryMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name+labelSuffix(labels)] += value
}

// RecordGauge sets a gauge value
func (m *InMemoryMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name+labelSuffix(labels)] = value
}

// RecordLatency records the duration of an operation
func (m *InMemoryMetricsClient) RecordLatency(operation string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[operation] = append(m.latencies[operation], duration)
}

// RecordCacheOperation records a cache hit or miss
func (m *InMemoryMetricsClient) RecordCacheOperation(operation string, hit bool, durationSeconds float64) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.RecordCounter("cache."+operation+"."+outcome, 1, nil)
}

// RecordOperation records a component operation outcome
func (m *InMemoryMetricsClient) RecordOperation(component string, operation string, success bool, durationSeconds float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.RecordCounter(component+"."+operation+"."+outcome, 1, nil)
}

// Counter returns the current value of a counter, for tests
func (m *InMemoryMetricsClient) Counter(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

// Close implements MetricsClient.Close
func (m *InMemoryMetricsClient) Close() error { return nil }

func labelSuffix(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	s := ""
	for k, v := range labels {
		s += "," + k + "=" + v
	}
	return s
}

// NoopMetricsClient discards all metrics
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a metrics client that discards everything
func NewNoopMetricsClient() MetricsClient { return &NoopMetricsClient{} }

// RecordCounter implements MetricsClient.RecordCounter
func (n *NoopMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {}

// RecordGauge implements MetricsClient.RecordGauge
func (n *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordLatency implements MetricsClient.RecordLatency
func (n *NoopMetricsClient) RecordLatency(operation string, duration time.Duration) {}

// RecordCacheOperation implements MetricsClient.RecordCacheOperation
func (n *NoopMetricsClient) RecordCacheOperation(operation string, hit bool, durationSeconds float64) {
}

// RecordOperation implements MetricsClient.RecordOperation
func (n *NoopMetricsClient) RecordOperation(component string, operation string, success bool, durationSeconds float64) {
}

// Close implements MetricsClient.Close
func (n *NoopMetricsClient) Close() error { return nil }
