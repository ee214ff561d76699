// Package cli defines the command-line flags of the control plane server
// binary, each with an environment variable fallback.
package cli
