// Package config loads application configuration from DUETRACK_* environment
// variables with sensible defaults for local development.
package config
