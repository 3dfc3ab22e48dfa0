// Package transport connects the harness to MQTT brokers.
//
// Conn is the subset of a paho client the harness uses, so tests can
// substitute an in-memory broker. Dial builds and connects a paho client,
// retrying the connection with exponential backoff; errors the broker
// returns after a successful connect are never retried here.
package transport
