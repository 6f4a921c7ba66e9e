// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness multiplexer interface.

package reactor

import (
	"time"

	"github.com/momentics/hioload-pipeline/api"
)

// Multiplexer wraps the OS readiness facility together with its dispatch table.
type Multiplexer interface {
	// Register starts watching fd. Fails with api.ErrDuplicateRegistration if fd is already watched.
	Register(fd int, interest api.EventMask, h api.Handler) error

	// Modify replaces the interest set of fd. Fails with api.ErrNotRegistered.
	Modify(fd int, interest api.EventMask) error

	// Deregister stops watching fd. Fails with api.ErrNotRegistered if fd is unknown;
	// callers tearing a connection down treat that as benign.
	Deregister(fd int) error

	// Wait blocks until at least one descriptor is ready or timeout elapses.
	// A negative timeout blocks indefinitely. Returns the number of events written to out.
	Wait(timeout time.Duration, out []Event) (int, error)

	// Lookup returns the handler registered for fd.
	Lookup(fd int) (api.Handler, bool)

	// Close releases the OS resources.
	Close() error
}

// Event contains one readiness notification returned by Wait.
type Event struct {
	Fd   int
	Mask api.EventMask
}

// DefaultMaxEvents bounds a single Wait batch.
const DefaultMaxEvents = 128
