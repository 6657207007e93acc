// Package connector defines the interface for executing commands on target devices.
package connector

import (
	"context"
	"errors"
	"io"
	"time"
)

// DefaultTimeout bounds connection establishment when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// ErrNotConnected is returned by Execute and Upload when no session is open.
var ErrNotConnected = errors.New("not connected")

// Result holds the raw output from command execution.
// Stdout and Stderr are not guaranteed to be valid UTF-8.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Connector owns a single session to one target.
type Connector interface {
	// Connect establishes a session to the target. Calling Connect on an
	// already connected connector is a no-op.
	Connect(ctx context.Context) error

	// Connected reports whether a session is currently open.
	Connected() bool

	// Execute runs a command on the target and returns the result.
	// A non-zero exit code is not an error.
	Execute(ctx context.Context, cmd string) (*Result, error)

	// Upload copies content from src to dst on the target. A zero mode
	// leaves the remote default permissions in place.
	Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error

	// Close terminates the session. It is idempotent.
	Close() error

	// Host returns the target host as configured.
	Host() string

	// String returns a human-readable description of the connection.
	String() string
}

// Config holds common configuration for connectors.
type Config struct {
	// Host is the target hostname or IP address.
	Host string

	// Port is the target port.
	Port int

	// User is the username for authentication.
	User string

	// Timeout bounds connection establishment.
	Timeout time.Duration
}

// EffectiveTimeout returns Timeout or DefaultTimeout when unset.
func (c Config) EffectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}
