//go:build linux
// +build linux

// File: reactor/wakeup_linux.go
// Author: momentics <momentics@gmail.com>
//
// eventfd(2) based wakeup used to interrupt a blocked Wait from another goroutine.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/momentics/hioload-pipeline/api"
	"golang.org/x/sys/unix"
)

type eventfdWaker struct {
	fd int
}

func newWaker() (waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &eventfdWaker{fd: fd}, nil
}

func (w *eventfdWaker) Fd() int {
	return w.fd
}

// Signal bumps the counter; a saturated counter still leaves the fd readable.
func (w *eventfdWaker) Signal() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(w.fd, b[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (w *eventfdWaker) HandleEvent(fd int, mask api.EventMask) {
	var b [8]byte
	_, _ = unix.Read(w.fd, b[:])
}

func (w *eventfdWaker) Kind() api.HandlerKind {
	return api.KindWakeup
}

func (w *eventfdWaker) Close() error {
	return unix.Close(w.fd)
}
