// File: reactor/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatch table mapping open descriptors to their handlers.

package reactor

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-pipeline/api"
)

// Registration relates a descriptor to its interest set and handler.
type Registration struct {
	Fd       int
	Interest api.EventMask
	Handler  api.Handler
}

// Table is the in-memory dispatch table. Mutations happen on the loop
// goroutine; the lock lets probes read Len and Range from elsewhere.
type Table struct {
	mu   sync.RWMutex
	regs map[int]Registration
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{regs: make(map[int]Registration)}
}

// Put inserts a registration. At most one registration per descriptor.
func (t *Table) Put(r Registration) error {
	if r.Handler == nil {
		return fmt.Errorf("fd %d: nil handler: %w", r.Fd, api.ErrInvalidArgument)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.regs[r.Fd]; ok {
		return fmt.Errorf("fd %d: %w", r.Fd, api.ErrDuplicateRegistration)
	}
	t.regs[r.Fd] = r
	return nil
}

// Get returns the handler for fd; unknown descriptors yield (nil, false).
func (t *Table) Get(fd int) (api.Handler, bool) {
	t.mu.RLock()
	r, ok := t.regs[fd]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Handler, true
}

// Lookup returns the full registration for fd.
func (t *Table) Lookup(fd int) (Registration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.regs[fd]
	return r, ok
}

// SetInterest updates the recorded interest set of fd.
func (t *Table) SetInterest(fd int, interest api.EventMask) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.regs[fd]
	if !ok {
		return fmt.Errorf("fd %d: %w", fd, api.ErrNotRegistered)
	}
	r.Interest = interest
	t.regs[fd] = r
	return nil
}

// Remove deletes the registration of fd.
func (t *Table) Remove(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.regs[fd]; !ok {
		return fmt.Errorf("fd %d: %w", fd, api.ErrNotRegistered)
	}
	delete(t.regs, fd)
	return nil
}

// Len returns the number of live registrations.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.regs)
}

// Range calls fn for a snapshot of the registrations until fn returns false.
// fn may mutate the table.
func (t *Table) Range(fn func(Registration) bool) {
	t.mu.RLock()
	snap := make([]Registration, 0, len(t.regs))
	for _, r := range t.regs {
		snap = append(snap, r)
	}
	t.mu.RUnlock()
	for _, r := range snap {
		if !fn(r) {
			return
		}
	}
}

// CountKind returns how many registrations carry a handler of kind k.
func (t *Table) CountKind(k api.HandlerKind) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, r := range t.regs {
		if r.Handler.Kind() == k {
			n++
		}
	}
	return n
}
