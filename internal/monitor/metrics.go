package monitor

import (
	"sync"
	"time"
)

// Metrics contains all monitoring metrics
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	FatalFailures      int64
	ExhaustedRequests  int64 // Requests that ran out of endpoints/retries

	// Attempt metrics
	TotalAttempts      int64
	HealthCheckSkips   int64
	FailuresByType     map[string]int64

	// Response time metrics
	TotalResponseTime time.Duration
	MinResponseTime   time.Duration
	MaxResponseTime   time.Duration

	// Endpoint metrics
	EndpointStats map[string]*EndpointMetrics

	// System metrics
	StartTime time.Time
}

// EndpointMetrics tracks metrics for a specific endpoint
type EndpointMetrics struct {
	Name               string
	TotalAttempts      int64
	SuccessfulAttempts int64
	FailedAttempts     int64
	TotalResponseTime  time.Duration
	MinResponseTime    time.Duration
	MaxResponseTime    time.Duration
	LastUsed           time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		FailuresByType: make(map[string]int64),
		EndpointStats:  make(map[string]*EndpointMetrics),
		StartTime:      time.Now(),
	}
}

// RecordRequestStart records the start of a dispatch request
func (m *Metrics) RecordRequestStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalRequests++
}

// RecordRequestSuccess records a successfully completed request
func (m *Metrics) RecordRequestSuccess(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SuccessfulRequests++
	m.recordResponseTime(duration)
}

// RecordRequestFailure records a failed request. fatal marks failures that
// aborted without exhausting the endpoint set; exhausted marks aggregate
// no-result failures.
func (m *Metrics) RecordRequestFailure(duration time.Duration, fatal, exhausted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FailedRequests++
	if fatal {
		m.FatalFailures++
	}
	if exhausted {
		m.ExhaustedRequests++
	}
	m.recordResponseTime(duration)
}

// RecordAttempt records one selection-invoke cycle against an endpoint
func (m *Metrics) RecordAttempt(endpoint string, duration time.Duration, success bool, failureType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalAttempts++
	if !success && failureType != "" {
		m.FailuresByType[failureType]++
	}

	es, ok := m.EndpointStats[endpoint]
	if !ok {
		es = &EndpointMetrics{Name: endpoint}
		m.EndpointStats[endpoint] = es
	}
	es.TotalAttempts++
	if success {
		es.SuccessfulAttempts++
	} else {
		es.FailedAttempts++
	}
	es.TotalResponseTime += duration
	if es.MinResponseTime == 0 || duration < es.MinResponseTime {
		es.MinResponseTime = duration
	}
	if duration > es.MaxResponseTime {
		es.MaxResponseTime = duration
	}
	es.LastUsed = time.Now()
}

// RecordHealthCheckSkip records an endpoint skipped by a failed probe
func (m *Metrics) RecordHealthCheckSkip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HealthCheckSkips++
}

// recordResponseTime must be called with mu held
func (m *Metrics) recordResponseTime(duration time.Duration) {
	m.TotalResponseTime += duration
	if m.MinResponseTime == 0 || duration < m.MinResponseTime {
		m.MinResponseTime = duration
	}
	if duration > m.MaxResponseTime {
		m.MaxResponseTime = duration
	}
}

// Snapshot is a point-in-time copy of the metrics for the web layer
type Snapshot struct {
	TotalRequests      int64                      `json:"total_requests"`
	SuccessfulRequests int64                      `json:"successful_requests"`
	FailedRequests     int64                      `json:"failed_requests"`
	FatalFailures      int64                      `json:"fatal_failures"`
	ExhaustedRequests  int64                      `json:"exhausted_requests"`
	TotalAttempts      int64                      `json:"total_attempts"`
	HealthCheckSkips   int64                      `json:"health_check_skips"`
	FailuresByType     map[string]int64           `json:"failures_by_type"`
	AvgResponseTime    time.Duration              `json:"avg_response_time"`
	MinResponseTime    time.Duration              `json:"min_response_time"`
	MaxResponseTime    time.Duration              `json:"max_response_time"`
	Uptime             time.Duration              `json:"uptime"`
	Endpoints          map[string]EndpointMetrics `json:"endpoints"`
}

// GetSnapshot returns a deep copy of the current metrics
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		TotalRequests:      m.TotalRequests,
		SuccessfulRequests: m.SuccessfulRequests,
		FailedRequests:     m.FailedRequests,
		FatalFailures:      m.FatalFailures,
		ExhaustedRequests:  m.ExhaustedRequests,
		TotalAttempts:      m.TotalAttempts,
		HealthCheckSkips:   m.HealthCheckSkips,
		FailuresByType:     make(map[string]int64, len(m.FailuresByType)),
		MinResponseTime:    m.MinResponseTime,
		MaxResponseTime:    m.MaxResponseTime,
		Uptime:             time.Since(m.StartTime),
		Endpoints:          make(map[string]EndpointMetrics, len(m.EndpointStats)),
	}
	completed := m.SuccessfulRequests + m.FailedRequests
	if completed > 0 {
		snap.AvgResponseTime = m.TotalResponseTime / time.Duration(completed)
	}
	for k, v := range m.FailuresByType {
		snap.FailuresByType[k] = v
	}
	for k, v := range m.EndpointStats {
		snap.Endpoints[k] = *v
	}
	return snap
}
