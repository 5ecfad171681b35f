package nats

import "errors"

// Sentinel errors for bus operations, checked with errors.Is.
var (
	// ErrNotConnected indicates the bus connection is down.
	ErrNotConnected = errors.New("nats: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("nats: connection failed")

	// ErrInvalidGroup indicates a group name that cannot form a subject.
	ErrInvalidGroup = errors.New("nats: invalid group")

	// ErrSendFailed indicates an event could not be handed to the server.
	ErrSendFailed = errors.New("nats: send failed")
)
