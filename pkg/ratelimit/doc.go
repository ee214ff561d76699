// Package ratelimit provides per-client and per-actor rate limiting middleware
// for the control plane HTTP API.
package ratelimit
