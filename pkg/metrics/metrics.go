package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Control mutations
	SystemFlagToggles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_system_flag_toggles_total",
		Help: "Total number of system flag toggle attempts by outcome",
	}, []string{"key", "outcome"})
	TenantControlToggles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_tenant_control_toggles_total",
		Help: "Total number of tenant control toggle attempts by outcome",
	}, []string{"key", "outcome"})

	// Failure registry
	FailuresReported = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_failures_reported_total",
		Help: "Total number of failure reports, split into new records and merges into an active record",
	}, []string{"category", "severity", "result"})
	FailuresResolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_failures_resolved_total",
		Help: "Total number of failure records resolved",
	}, []string{"category"})
	ActiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controlplane_active_failures",
		Help: "Active failure records across all tenants, as of the last health snapshot",
	}, []string{"severity"})

	// Read path
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_cache_requests_total",
		Help: "Cache lookups by cache name and result (hit, miss, bypass)",
	}, []string{"cache", "result"})
	CacheInvalidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_cache_invalidations_total",
		Help: "Cache invalidations issued by writers",
	}, []string{"cache"})
	ReadsDegraded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_reads_degraded_total",
		Help: "Read paths that fell back to defaults because storage failed",
	}, []string{"component"})

	// Audit
	AuditAppendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_audit_append_failures_total",
		Help: "Audit entries that could not be appended after the primary write committed",
	}, []string{"target_kind"})
	AuditEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_audit_events_processed_total",
		Help: "Audit events delivered to a secondary sink",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_audit_events_dropped_total",
		Help: "Audit events dropped before reaching a secondary sink",
	}, []string{"sink", "reason"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_audit_sink_errors_total",
		Help: "Errors returned by secondary audit sinks",
	}, []string{"sink"})
	AuditSinkCircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "controlplane_audit_sink_circuit_state",
		Help: "Circuit breaker state per audit sink (0=closed, 1=half-open, 2=open)",
	}, []string{"sink"})

	// API
	APIEndpointRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_api_requests_total",
		Help: "Total number of API requests by endpoint and method",
	}, []string{"endpoint", "method"})
	APIEndpointDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "controlplane_api_request_duration_seconds",
		Help:    "API request latency by endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	APIEndpointErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_api_errors_total",
		Help: "API responses with status >= 400 by endpoint and status code",
	}, []string{"endpoint", "status"})
	RateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_rate_limit_rejections_total",
		Help: "Requests rejected by a rate limiter",
	}, []string{"limiter"})

	// Mail metrics
	MailQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_mail_queued_total",
		Help: "Total number of notification mails queued",
	}, []string{"host"})
	MailQueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_mail_queue_dropped_total",
		Help: "Total number of notification mails dropped because the queue was full or closed",
	}, []string{"host"})
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "controlplane_mail_failed_total",
		Help: "Total number of notification mails given up after all retries",
	}, []string{"host"})
)

func init() {
	prometheus.MustRegister(SystemFlagToggles)
	prometheus.MustRegister(TenantControlToggles)
	prometheus.MustRegister(FailuresReported)
	prometheus.MustRegister(FailuresResolved)
	prometheus.MustRegister(ActiveFailures)
	prometheus.MustRegister(CacheRequests)
	prometheus.MustRegister(CacheInvalidations)
	prometheus.MustRegister(ReadsDegraded)
	prometheus.MustRegister(AuditAppendFailures)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditSinkCircuitState)
	prometheus.MustRegister(APIEndpointRequests)
	prometheus.MustRegister(APIEndpointDuration)
	prometheus.MustRegister(APIEndpointErrors)
	prometheus.MustRegister(RateLimitRejections)
	prometheus.MustRegister(MailQueued)
	prometheus.MustRegister(MailQueueDropped)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailFailed)
}

// Outcome labels shared by toggle counters.
const (
	OutcomeSuccess      = "success"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInvalid      = "invalid"
	OutcomeNotFound     = "not_found"
	OutcomeError        = "error"
)

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
