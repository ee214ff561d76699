// Package cmd implements the cpctl command tree.
package cmd
