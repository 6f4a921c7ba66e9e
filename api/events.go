// File: api/events.go
// Package api defines core event types for hioload-pipeline.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "strings"

// EventMask is a platform-neutral readiness bit set.
type EventMask uint32

const (
	EventRead EventMask = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// Has reports whether all bits of o are set in m.
func (m EventMask) Has(o EventMask) bool {
	return m&o == o
}

// Failed reports whether the mask signals error or hangup.
func (m EventMask) Failed() bool {
	return m&(EventError|EventHangup) != 0
}

func (m EventMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m&EventRead != 0 {
		parts = append(parts, "read")
	}
	if m&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if m&EventError != 0 {
		parts = append(parts, "error")
	}
	if m&EventHangup != 0 {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}
