package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transcript_gateway_active_sessions",
		Help: "Number of active capture sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transcript_gateway_sessions_total",
		Help: "Total number of capture sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transcript_gateway_session_duration_seconds",
		Help:    "Duration of capture sessions in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 900, 1800, 3600},
	})

	// Fragment metrics
	fragmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcript_gateway_fragments_total",
		Help: "Total transcript fragments emitted by backends",
	}, []string{"backend", "finality"}) // finality: "interim" or "final"

	// Provider metrics
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcript_gateway_provider_requests_total",
		Help: "Total requests issued to transcription providers",
	}, []string{"provider", "status"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcript_gateway_provider_latency_seconds",
		Help:    "Transcription provider round-trip latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"provider"})

	// Backend cycle metrics (chunked capture windows, streaming sends)
	backendCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcript_gateway_backend_cycles_total",
		Help: "Capture/send cycles completed per backend",
	}, []string{"backend", "outcome"}) // outcome: "ok", "empty", "error"

	// Supervisor metrics
	supervisorRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcript_gateway_supervisor_retries_total",
		Help: "Restart attempts scheduled by the connection supervisor",
	}, []string{"backend"})

	supervisorTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcript_gateway_supervisor_terminal_total",
		Help: "Terminal failures surfaced after the retry budget was exhausted or a non-retryable error occurred",
	}, []string{"backend"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcript_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transcript_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcript_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transcript_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// SessionMetrics tracks metrics for a single capture session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a capture session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a capture session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordFragment records a fragment emitted by a backend
func RecordFragment(backend string, final bool) {
	finality := "interim"
	if final {
		finality = "final"
	}
	fragmentsTotal.WithLabelValues(backend, finality).Inc()
}

// RecordProviderRequest records the outcome and latency of a provider call
func RecordProviderRequest(provider string, err error, elapsed time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	providerRequests.WithLabelValues(provider, status).Inc()
	providerLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordBackendCycle records one completed capture/send cycle
func RecordBackendCycle(backend, outcome string) {
	backendCycles.WithLabelValues(backend, outcome).Inc()
}

// RecordSupervisorRetry records a scheduled restart attempt
func RecordSupervisorRetry(backend string) {
	supervisorRetries.WithLabelValues(backend).Inc()
}

// RecordSupervisorTerminal records a terminal failure
func RecordSupervisorTerminal(backend string) {
	supervisorTerminal.WithLabelValues(backend).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
