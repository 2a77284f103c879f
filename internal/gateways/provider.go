package gateway

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

const latencyWindow = 100

// EndpointMetrics are the rolling counters a relay endpoint is scored on.
type EndpointMetrics struct {
	Requests         atomic.Int64
	Succeeded        atomic.Int64
	Failed           atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
	LastSuccess      atomic.Int64
	LastFailure      atomic.Int64

	mu        sync.Mutex
	latencies []int64
}

func NewEndpointMetrics() *EndpointMetrics {
	return &EndpointMetrics{latencies: make([]int64, 0, latencyWindow)}
}

func (m *EndpointMetrics) RecordSuccess(latencyMs int64) {
	m.Requests.Add(1)
	m.Succeeded.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccess.Store(time.Now().Unix())

	m.mu.Lock()
	if len(m.latencies) == latencyWindow {
		m.latencies = m.latencies[1:]
	}
	m.latencies = append(m.latencies, latencyMs)
	m.mu.Unlock()
}

func (m *EndpointMetrics) RecordFailure() {
	m.Requests.Add(1)
	m.Failed.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastFailure.Store(time.Now().Unix())
}

// AvgLatencyMs averages over successful requests only.
func (m *EndpointMetrics) AvgLatencyMs() int64 {
	ok := m.Succeeded.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

// SuccessRate is 1 until the endpoint has seen traffic.
func (m *EndpointMetrics) SuccessRate() float64 {
	total := m.Requests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.Succeeded.Load()) / float64(total)
}

func (m *EndpointMetrics) P95LatencyMs() int64 {
	m.mu.Lock()
	sorted := append([]int64(nil), m.latencies...)
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type EndpointState int32

const (
	StateHealthy EndpointState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s EndpointState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateUnhealthy:
		return "UNHEALTHY"
	case StateCircuitOpen:
		return "CIRCUIT_OPEN"
	}
	return "UNKNOWN"
}

// Endpoint is one relay target. URL receives the forwarded SMS; HealthURL,
// when set, is polled by the client's health checker.
type Endpoint struct {
	name      string
	url       string
	healthURL string
	weight    int
	client    *fasthttp.Client
	metrics   *EndpointMetrics

	state     atomic.Int32
	openUntil atomic.Int64
}

func NewEndpoint(name, url, healthURL string, weight int, client *fasthttp.Client) *Endpoint {
	e := &Endpoint{
		name:      name,
		url:       url,
		healthURL: healthURL,
		weight:    weight,
		client:    client,
		metrics:   NewEndpointMetrics(),
	}
	e.state.Store(int32(StateHealthy))
	return e
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) State() EndpointState {
	return EndpointState(e.state.Load())
}

func (e *Endpoint) SetState(s EndpointState) {
	e.state.Store(int32(s))
}

// openCircuit rejects traffic to the endpoint until d has elapsed.
func (e *Endpoint) openCircuit(d time.Duration) {
	e.openUntil.Store(time.Now().Add(d).UnixNano())
	e.SetState(StateCircuitOpen)
}

// Available reports whether the endpoint may take traffic. An open circuit
// past its deadline is half opened into the degraded state.
func (e *Endpoint) Available() bool {
	switch e.State() {
	case StateUnhealthy:
		return false
	case StateCircuitOpen:
		if time.Now().UnixNano() < e.openUntil.Load() {
			return false
		}
		e.SetState(StateDegraded)
	}
	return true
}

// Score ranks available endpoints, higher is better. Success rate and
// latency weigh 40% each and the configured weight 20%; consecutive failures
// and the degraded state scale the result down.
func (e *Endpoint) Score() float64 {
	if !e.Available() {
		return 0
	}

	success := e.metrics.SuccessRate() * 100

	latency := 100.0
	if avg := e.metrics.AvgLatencyMs(); avg > 0 {
		latency = 100.0 * (1.0 - float64(avg)/5000.0)
		if latency < 0 {
			latency = 0
		}
	}

	penalty := 1.0 - float64(e.metrics.ConsecutiveFails.Load())*0.1
	if penalty < 0.1 {
		penalty = 0.1
	}
	if e.State() == StateDegraded {
		penalty *= 0.5
	}

	return (success*0.4 + latency*0.4 + float64(e.weight)*0.2) * penalty
}
