// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional YAML file. Every key has a
// default, so the service starts with no configuration at all; the SECOPS_
// environment prefix overrides file values.
package config
