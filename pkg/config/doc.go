// Package config loads and validates the node configuration from a YAML
// file, with CLI flags overriding file values at the command layer.
package config
