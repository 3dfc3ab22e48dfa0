package mock

import "errors"

// Mock package errors.
var (
	// ErrBrokerDown is returned by Connect while the broker is stopped.
	ErrBrokerDown = errors.New("broker is down")

	// ErrNotConnected is returned when publishing or subscribing before Connect.
	ErrNotConnected = errors.New("client not connected")

	// ErrClientIDInUse is returned when a second client connects with a taken id.
	ErrClientIDInUse = errors.New("client id already connected")
)
