// Package apiresponses provides the JSON error envelope and the mapping from
// control plane errors to HTTP status codes shared by the API handlers.
package apiresponses
