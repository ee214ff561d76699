// Package audit provides the audit trail of the tenant control plane: the
// append-only Log every control mutation writes through, and the forwarding of
// committed entries to secondary sinks (log, webhook, Kafka) with per-sink
// queues and circuit breaker protection.
package audit
