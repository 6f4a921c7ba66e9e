// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor driver: wait, dispatch every ready descriptor, repeat until stopped.

package reactor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/internal/logger"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("reactor loop already running")

type waker interface {
	api.Handler
	Fd() int
	Signal() error
	Close() error
}

// Loop is the single-threaded dispatch core. Only Stop may be called from
// other goroutines.
type Loop struct {
	mux    Multiplexer
	wake   waker
	events []Event

	tick     time.Duration
	onTick   func(now time.Time)
	lastTick time.Time
	observe  func(ready int)

	running  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
	log      *logrus.Entry
}

// Option customizes a Loop.
type Option func(*Loop)

// WithTick runs fn on the loop goroutine at least every interval.
// Wait then uses interval as its timeout instead of blocking forever.
func WithTick(interval time.Duration, fn func(now time.Time)) Option {
	return func(l *Loop) {
		if interval > 0 && fn != nil {
			l.tick = interval
			l.onTick = fn
		}
	}
}

// WithEventBatch sets how many events a single Wait may return.
func WithEventBatch(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.events = make([]Event, n)
		}
	}
}

// WithObserver receives the size of every non-empty readiness batch.
func WithObserver(fn func(ready int)) Option {
	return func(l *Loop) {
		l.observe = fn
	}
}

// WithLogger overrides the loop logger.
func WithLogger(entry *logrus.Entry) Option {
	return func(l *Loop) {
		if entry != nil {
			l.log = entry
		}
	}
}

// NewLoop builds a loop over mux and registers its wakeup descriptor.
func NewLoop(mux Multiplexer, opts ...Option) (*Loop, error) {
	if mux == nil {
		return nil, fmt.Errorf("new loop: nil multiplexer: %w", api.ErrInvalidArgument)
	}
	w, err := newWaker()
	if err != nil {
		return nil, err
	}
	l := &Loop{
		mux:    mux,
		wake:   w,
		events: make([]Event, DefaultMaxEvents),
		done:   make(chan struct{}),
		log:    logger.New("reactor"),
	}
	for _, o := range opts {
		o(l)
	}
	if err := mux.Register(w.Fd(), api.EventRead, w); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("register wakeup: %w", err)
	}
	return l, nil
}

// Run drives the loop until Stop is called or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.done)
	if ctx != nil && ctx.Done() != nil {
		cancel := context.AfterFunc(ctx, l.Stop)
		defer cancel()
	}

	timeout := time.Duration(-1)
	if l.onTick != nil {
		timeout = l.tick
		l.lastTick = time.Now()
	}

	for !l.stopping.Load() {
		n, err := l.mux.Wait(timeout, l.events)
		if err != nil {
			return fmt.Errorf("reactor wait: %w", err)
		}
		if n > 0 && l.observe != nil {
			l.observe(n)
		}
		for i := 0; i < n; i++ {
			l.dispatch(l.events[i])
		}
		if l.onTick != nil {
			if now := time.Now(); now.Sub(l.lastTick) >= l.tick {
				l.lastTick = now
				l.onTick(now)
			}
		}
	}
	l.log.Debug("loop stopped")
	return nil
}

func (l *Loop) dispatch(ev Event) {
	h, ok := l.mux.Lookup(ev.Fd)
	if !ok {
		// late event for a descriptor removed earlier in this batch
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.WithFields(logrus.Fields{"fd": ev.Fd, "kind": h.Kind()}).Errorf("handler panic: %v", r)
		}
	}()
	h.HandleEvent(ev.Fd, ev.Mask)
}

// Stop asks the loop to return after the current batch. Safe from any goroutine.
func (l *Loop) Stop() {
	if l.stopping.Swap(true) {
		return
	}
	if err := l.wake.Signal(); err != nil {
		l.log.Warnf("wakeup: %v", err)
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stopping reports whether Stop has been requested.
func (l *Loop) Stopping() bool {
	return l.stopping.Load()
}

// Close deregisters and closes the wakeup descriptor. Call after Run returned.
func (l *Loop) Close() error {
	if err := l.mux.Deregister(l.wake.Fd()); err != nil && !errors.Is(err, api.ErrNotRegistered) {
		l.log.Warnf("deregister wakeup: %v", err)
	}
	return l.wake.Close()
}
