// Package config handles configuration loading for lawbuddy.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LAWBUDDY_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/lawbuddy/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${LAWBUDDY_JWT_SECRET}"
//	gemini:
//	  api_key: "${GEMINI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	generation:
//	  lease_duration: "30s"
//	  lease_heartbeat: "10s"
//	  stream_timeout: "2m"
//
// # Example
//
//	server:
//	  http_addr: ":8080"
//	  shutdown_timeout: "10s"
//	database:
//	  path: "lawbuddy.db"
//	auth:
//	  jwt_secret: "${LAWBUDDY_JWT_SECRET}"
//	gemini:
//	  api_key: "${GEMINI_API_KEY}"
//	  model: "gemini-2.0-flash"
//	generation:
//	  history_window: 6
//	logging:
//	  level: "info"
//	  format: "json"
package config
