// Package config loads the control plane server configuration from YAML,
// applies defaults and environment overrides, and converts sections into the
// option structs of the component packages.
package config
