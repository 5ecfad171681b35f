package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrShuttingDown is returned by subscribe, unsubscribe and publish once
	// shutdown has begun, and releases callers waiting for a connection.
	ErrShuttingDown = errors.New("bridge: shutting down")

	// ErrInvalidGroup is returned when a group identifier is empty.
	ErrInvalidGroup = errors.New("bridge: invalid group")

	// ErrUnknownCommand is returned for a bus command whose type is not one of
	// <channel>.subscribe, <channel>.unsubscribe or <channel>.publish.
	ErrUnknownCommand = errors.New("bridge: unknown command type")

	// ErrInvalidCommand is returned when a bus command cannot be decoded.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrInvalidOptions is returned by New and NewConnectionManager when a
	// required collaborator is missing.
	ErrInvalidOptions = errors.New("bridge: invalid options")
)
