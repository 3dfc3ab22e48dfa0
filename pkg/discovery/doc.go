// Package discovery finds MQTT brokers announced with mDNS/DNS-SD.
//
// Mosquitto and most brokers packaged for home automation boxes advertise
// the service type _mqtt._tcp. The harness resolves brokers flagged with
// discover in the environment file by their instance name, so that a test
// bench can move between networks without editing addresses.
//
// # Aggregation
//
// A host announces one entry per network interface. Entries are merged by
// instance name: the addresses of every interface are combined into one
// Broker, and a removal only drops the addresses of the interface that
// went away.
package discovery
