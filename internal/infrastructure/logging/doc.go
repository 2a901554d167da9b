// Package logging provides structured logging for the RAKO bridge.
//
// It wraps log/slog so every entry carries the service name and build
// version. JSON output is intended for deployments, text output for
// interactive use.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("rako").Info("hub connected", "address", addr)
//
// Never log the MQTT password or the InfluxDB token.
package logging
