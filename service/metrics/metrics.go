package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Submission Metrics
	submissionsTotal         *prometheus.CounterVec
	submissionStageDuration  *prometheus.HistogramVec
	submissionDuration       *prometheus.HistogramVec
	confirmationAttempts     *prometheus.HistogramVec
	confirmationPollErrors   *prometheus.CounterVec
	decodeAttemptsTotal      *prometheus.CounterVec
	submissionsInFlight      prometheus.Gauge
	submissionsRejectedTotal *prometheus.CounterVec

	// Workflow Metrics
	watchWorkflowExecutionsTotal *prometheus.CounterVec
	watchActivityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		// Submission Metrics
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submissions_total",
				Help: "Total number of transaction submissions by terminal state",
			},
			[]string{"outcome", "network"},
		),
		submissionStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "submission_stage_duration_seconds",
				Help:    "Time spent in each submission stage in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"stage", "status"},
		),
		submissionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "submission_duration_seconds",
				Help:    "End to end duration of a submission in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		confirmationAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "confirmation_attempts",
				Help:    "Number of status polls made before a submission reached a terminal state",
				Buckets: []float64{1, 2, 5, 10, 20, 30},
			},
			[]string{"outcome"},
		),
		confirmationPollErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirmation_poll_errors_total",
				Help: "Total number of signature status polls that failed and were retried",
			},
			[]string{"endpoint"},
		),
		decodeAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_decode_attempts_total",
				Help: "Total number of transaction decode attempts by result",
			},
			[]string{"kind", "status"},
		),
		submissionsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "submissions_in_flight",
				Help: "Number of submissions currently running",
			},
		),
		submissionsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "submissions_rejected_total",
				Help: "Total number of submissions refused before starting",
			},
			[]string{"reason"},
		),

		// Workflow Metrics
		watchWorkflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watch_workflow_executions_total",
				Help: "Total number of signature watch workflow executions",
			},
			[]string{"outcome"},
		),
		watchActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watch_activity_duration_seconds",
				Help:    "Duration of signature watch activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Submission metric helpers

// RecordSubmission records a submission reaching a terminal state.
func (m *Metrics) RecordSubmission(outcome, network string, duration float64) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(outcome, network).Inc()
	m.submissionDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordStage records how long a submission spent in one stage.
func (m *Metrics) RecordStage(stage, status string, duration float64) {
	if m == nil {
		return
	}
	m.submissionStageDuration.WithLabelValues(stage, status).Observe(duration)
}

// RecordConfirmationAttempts records how many polls a confirmation took.
func (m *Metrics) RecordConfirmationAttempts(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.confirmationAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}

// RecordPollError records a failed status poll.
func (m *Metrics) RecordPollError(endpoint string) {
	if m == nil {
		return
	}
	m.confirmationPollErrors.WithLabelValues(endpoint).Inc()
}

// RecordDecode records a decode attempt. kind is "legacy", "versioned" or "none".
func (m *Metrics) RecordDecode(kind, status string) {
	if m == nil {
		return
	}
	m.decodeAttemptsTotal.WithLabelValues(kind, status).Inc()
}

// SubmissionStarted increments the in-flight gauge.
func (m *Metrics) SubmissionStarted() {
	if m == nil {
		return
	}
	m.submissionsInFlight.Inc()
}

// SubmissionFinished decrements the in-flight gauge.
func (m *Metrics) SubmissionFinished() {
	if m == nil {
		return
	}
	m.submissionsInFlight.Dec()
}

// RecordRejected records a submission that was refused before it started.
func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.submissionsRejectedTotal.WithLabelValues(reason).Inc()
}

// Workflow metric helpers

// RecordWatchWorkflow records a finished signature watch workflow.
func (m *Metrics) RecordWatchWorkflow(outcome string) {
	if m == nil {
		return
	}
	m.watchWorkflowExecutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.watchActivityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
