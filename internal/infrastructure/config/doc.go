// Package config loads the BLE bridge configuration.
//
// Load applies, in order: built-in defaults, the YAML file, BLEBRIDGE_*
// environment overrides and Validate. Validate reports every problem at
// once as "configuration errors: a; b".
//
// Sections:
//
//	mqtt       broker discovery (static, gateway, mdns), auth, reconnect timing
//	bluetooth  HCI adapter, pool size, scan window, bond source, simulate
//	bridge     topic prefix, health interval, event log retention
//	api        local HTTP API, static token, JWT secret, CORS origins
//	influxdb   optional notification telemetry
//
// The per-peer subscription and write table sizes are constants, not
// settings.
//
// Secrets (BLEBRIDGE_MQTT_PASSWORD, BLEBRIDGE_API_TOKEN,
// BLEBRIDGE_API_JWT_SECRET, BLEBRIDGE_INFLUXDB_TOKEN) are best supplied
// through the environment rather than the file.
package config
