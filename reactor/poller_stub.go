//go:build !linux
// +build !linux

// File: reactor/poller_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"time"

	"github.com/momentics/hioload-pipeline/api"
)

// Poller is unavailable outside Linux.
type Poller struct{}

// NewPoller returns an error for unsupported platforms.
func NewPoller(maxEvents int) (*Poller, error) {
	return nil, api.ErrNotSupported
}

func (p *Poller) Table() *Table { return nil }

func (p *Poller) Register(fd int, interest api.EventMask, h api.Handler) error {
	return api.ErrNotSupported
}

func (p *Poller) Modify(fd int, interest api.EventMask) error { return api.ErrNotSupported }

func (p *Poller) Deregister(fd int) error { return api.ErrNotSupported }

func (p *Poller) Lookup(fd int) (api.Handler, bool) { return nil, false }

func (p *Poller) Wait(timeout time.Duration, out []Event) (int, error) {
	return 0, api.ErrNotSupported
}

func (p *Poller) Close() error { return nil }

func newWaker() (waker, error) {
	return nil, api.ErrNotSupported
}
