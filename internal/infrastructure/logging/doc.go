// Package logging provides structured logging for fluxquery.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stderr"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("query finished", "tables", 4, "records", 28)
//
// Never log the InfluxDB token or MQTT password.
package logging
