package server

import "context"

// Server represents a remote provisioning target.
type Server interface {
	// ID returns a unique identifier for the target.
	ID() string
	// Address returns the connection address (IP or hostname).
	Address() string
	// Execute runs a command on the target and returns its combined output.
	Execute(ctx context.Context, command string) (string, error)
	// Probe checks that a command session can be opened on the target.
	// It is cheap enough to call from a polling loop.
	Probe(ctx context.Context) error
}
