//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"golang.org/x/sys/unix"
)

// Poller is a level-triggered epoll multiplexer owning its dispatch table.
type Poller struct {
	epfd   int
	table  *Table
	raw    []unix.EpollEvent
	closed bool
}

// NewPoller creates an epoll instance able to report maxEvents per Wait.
func NewPoller(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Poller{
		epfd:  epfd,
		table: NewTable(),
		raw:   make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Table exposes the dispatch table.
func (p *Poller) Table() *Table {
	return p.table
}

// Register adds fd to the epoll interest list and records its handler.
func (p *Poller) Register(fd int, interest api.EventMask, h api.Handler) error {
	if p.closed {
		return api.ErrClosed
	}
	if _, ok := p.table.Get(fd); ok {
		return fmt.Errorf("fd %d: %w", fd, api.ErrDuplicateRegistration)
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	if err := p.table.Put(Registration{Fd: fd, Interest: interest, Handler: h}); err != nil {
		_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		return err
	}
	return nil
}

// Modify changes the interest set of a registered fd.
func (p *Poller) Modify(fd int, interest api.EventMask) error {
	if _, ok := p.table.Get(fd); !ok {
		return fmt.Errorf("fd %d: %w", fd, api.ErrNotRegistered)
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd %d: %w", fd, err)
	}
	return p.table.SetInterest(fd, interest)
}

// Deregister removes fd from epoll and from the dispatch table.
func (p *Poller) Deregister(fd int) error {
	if err := p.table.Remove(fd); err != nil {
		return err
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		// Already gone from the kernel set: the table entry was the only state left.
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
			return nil
		}
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Lookup returns the handler registered for fd.
func (p *Poller) Lookup(fd int) (api.Handler, bool) {
	return p.table.Get(fd)
}

// Wait blocks for readiness. timeout < 0 blocks infinitely.
// A signal interruption is reported as zero events.
func (p *Poller) Wait(timeout time.Duration, out []Event) (int, error) {
	if p.closed {
		return 0, api.ErrClosed
	}
	raw := p.raw
	if len(out) < len(raw) {
		raw = raw[:len(out)]
	}
	if len(raw) == 0 {
		return 0, fmt.Errorf("wait: empty event buffer: %w", api.ErrInvalidArgument)
	}

	n, err := unix.EpollWait(p.epfd, raw, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		out[i] = Event{Fd: int(raw[i].Fd), Mask: fromEpoll(raw[i].Events)}
	}
	return n, nil
}

// Close releases the epoll file descriptor.
func (p *Poller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}

// toEpoll maps interest bits. EPOLLERR and EPOLLHUP are always reported by the kernel.
func toEpoll(m api.EventMask) uint32 {
	var ev uint32
	if m&api.EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if m&api.EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	if m&api.EventError != 0 {
		ev |= unix.EPOLLERR
	}
	if m&api.EventHangup != 0 {
		ev |= unix.EPOLLHUP
	}
	return ev
}

func fromEpoll(ev uint32) api.EventMask {
	var m api.EventMask
	if ev&unix.EPOLLIN != 0 {
		m |= api.EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		m |= api.EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		m |= api.EventError
	}
	if ev&unix.EPOLLHUP != 0 {
		m |= api.EventHangup
	}
	return m
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
