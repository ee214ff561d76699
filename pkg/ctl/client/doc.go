// Package client is the HTTP client cpctl uses to talk to the control plane API.
package client
