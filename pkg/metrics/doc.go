// Package metrics defines Prometheus metrics for the tenant control plane,
// covering flag and override toggles, failure reports, read caches, the audit
// pipeline, API endpoints, rate limiting and mail delivery.
package metrics
