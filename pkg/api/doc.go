// Package api implements the HTTP API of the control plane (gin based):
// bearer token authentication, system flag and tenant control endpoints,
// failure reporting and resolution, effective state reads, the health
// snapshot and the audit listing.
package api
