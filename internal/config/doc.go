// Package config loads ibrain configuration from an optional JSON file with
// IBRAIN_* environment variable overlays. Defaults are safe for local use.
package config
