// Package logging provides structured logging for the BLE bridge.
//
// It wraps log/slog so every entry carries the service name and build
// version, and so components can share one configured handler.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("session").Info("connected", "broker", addr)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
