// Package log provides structured protocol logging for the jMQTT harness.
//
// This package defines the Logger interface and Event types for capturing
// the traffic the harness exchanges with the system under test: JSON-RPC
// calls, MQTT API requests and responses, and messages seen by capture
// listeners. It is separate from operational logging (slog) - protocol
// capture provides a complete machine-readable trace of a test run.
//
// # Basic Usage
//
// Clients take a Logger in their configuration:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For CI runs: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/tmp/jmqtt-test.mlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are tagged with the channel that produced them (JSON-RPC, MQTT
// API, capture) and carry one of:
//   - MessageEvent: a request, response or published/received message
//   - StateChangeEvent: a connection or daemon state change
//   - ErrorEventData: an error envelope, a timeout or a transport failure
//
// # File Format
//
// Log files use CBOR encoding with integer keys and the .mlog extension.
// The jmqtt-log CLI tool provides viewing, filtering, and export.
package log
