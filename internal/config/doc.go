// Package config loads and validates dashd configuration from YAML.
//
// Files may reference environment variables with ${VAR} syntax; they are
// expanded before parsing. Missing optional fields receive defaults via
// LoadWithDefaults.
package config
