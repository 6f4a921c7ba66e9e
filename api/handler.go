// File: api/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler contract for readiness-driven dispatch.

package api

// HandlerKind tags the variant behind a Handler.
type HandlerKind uint8

const (
	KindWakeup HandlerKind = iota
	KindListener
	KindConnection
)

func (k HandlerKind) String() string {
	switch k {
	case KindListener:
		return "listener"
	case KindConnection:
		return "connection"
	default:
		return "wakeup"
	}
}

// Handler reacts to readiness on a single descriptor.
// HandleEvent runs on the reactor goroutine and must not block.
type Handler interface {
	HandleEvent(fd int, mask EventMask)
	Kind() HandlerKind
}
