//go:build linux
// +build linux

// File: server/server_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server owns the listener, the reactor and the precomputed replies, and
// tears them down in order once the loop stops.

package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/momentics/hioload-pipeline/affinity"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/momentics/hioload-pipeline/internal/logger"
	"github.com/momentics/hioload-pipeline/internal/ratelimiter"
	"github.com/momentics/hioload-pipeline/pool"
	"github.com/momentics/hioload-pipeline/reactor"
	"github.com/momentics/hioload-pipeline/reply"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Server is the pipelining responder.
type Server struct {
	cfg      *Config
	poller   *reactor.Poller
	loop     *reactor.Loop
	listener *Listener
	replies  *reply.Set
	pool     *pool.BufferPool
	limiter  *ratelimiter.RateLimiter
	metrics  control.Metrics
	probes   *control.DebugProbes
	log      *logrus.Entry
	now      func() time.Time

	active   atomic.Int64
	accepted atomic.Uint64
	serving  atomic.Bool
	teardown sync.Once

	// fault is set on the loop goroutine when the listener fails.
	fault error
}

// Stats is a point-in-time snapshot for probes and tests.
type Stats struct {
	Address       string     `json:"address"`
	Active        int64      `json:"active"`
	Accepted      uint64     `json:"accepted"`
	Registrations int        `json:"registrations"`
	Buffers       pool.Stats `json:"buffers"`
	// AcceptTokens is -1 when accept rate limiting is off.
	AcceptTokens float64 `json:"accept_tokens"`
}

// New validates cfg, builds the reply batches and binds the listener.
// Nothing is served until Serve is called.
func New(cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, api.NewError(api.ErrCodeConfiguration, "invalid server config", err)
	}

	o := options{
		metrics: control.NewNoopMetrics(),
		log:     logger.New("server"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	replies, err := reply.NewSet(c.ServerName, c.MaxDepth, o.now())
	if err != nil {
		return nil, api.NewError(api.ErrCodeConfiguration, "build replies", err)
	}

	s := &Server{
		cfg:     &c,
		replies: replies,
		pool:    pool.NewBufferPool(c.ReadBufferSize, 0),
		limiter: ratelimiter.New(c.AcceptRate, c.AcceptBurst),
		metrics: o.metrics,
		probes:  o.probes,
		log:     o.log,
		now:     o.now,
	}

	if s.poller, err = reactor.NewPoller(c.MaxEvents); err != nil {
		return nil, api.NewError(api.ErrCodeConfiguration, "create poller", err)
	}
	if s.listener, err = Listen(c.Listener); err != nil {
		_ = s.poller.Close()
		return nil, err
	}
	s.listener.srv = s
	if err := s.poller.Register(s.listener.Fd(), interestRead, s.listener); err != nil {
		_ = s.listener.Close()
		_ = s.poller.Close()
		return nil, api.NewError(api.ErrCodeConfiguration, "register listener", err)
	}

	loopOpts := []reactor.Option{
		reactor.WithEventBatch(c.MaxEvents),
		reactor.WithObserver(s.metrics.LoopWakeup),
		reactor.WithLogger(s.log.WithField("component", "loop")),
		reactor.WithTick(c.SweepInterval, s.sweep),
	}
	if s.loop, err = reactor.NewLoop(s.poller, loopOpts...); err != nil {
		_ = s.poller.Deregister(s.listener.Fd())
		_ = s.listener.Close()
		_ = s.poller.Close()
		return nil, api.NewError(api.ErrCodeConfiguration, "create loop", err)
	}

	if s.probes != nil {
		s.probes.RegisterProbe("server", func() any { return s.Stats() })
	}

	s.log.WithFields(logrus.Fields{
		"addr":      s.listener.Addr().String(),
		"max_depth": c.MaxDepth,
		"framing":   c.Framing,
	}).Info("listening")
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() *net.TCPAddr {
	return s.listener.Addr()
}

// Config returns the effective configuration after defaults.
func (s *Server) Config() Config {
	return *s.cfg
}

// Replies exposes the precomputed batches.
func (s *Server) Replies() *reply.Set {
	return s.replies
}

// Serve runs the reactor on the calling goroutine until ctx is done or
// Shutdown is called, then releases every descriptor.
func (s *Server) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	err := s.run(ctx)
	if errors.Is(err, reactor.ErrAlreadyRunning) {
		return ErrAlreadyRunning
	}
	s.close()
	if err != nil {
		return api.NewError(api.ErrCodeTransport, "serve", err)
	}
	if s.fault != nil {
		return s.fault
	}
	return nil
}

// run drives the loop, on a dedicated pinned thread when PinLoop is set.
func (s *Server) run(ctx context.Context) error {
	if !s.cfg.PinLoop {
		return s.loop.Run(ctx)
	}
	errc := make(chan error, 1)
	go func() {
		if err := affinity.Pin(s.cfg.CPU); err != nil {
			s.log.WithError(err).WithField("cpu", s.cfg.CPU).Warn("reactor runs unpinned")
		} else {
			s.log.WithField("cpu", s.cfg.CPU).Info("reactor pinned")
		}
		errc <- s.loop.Run(ctx)
	}()
	return <-errc
}

// Shutdown asks a running Serve to return. Safe from any goroutine.
func (s *Server) Shutdown() {
	s.loop.Stop()
}

// Done is closed once the reactor loop has returned.
func (s *Server) Done() <-chan struct{} {
	return s.loop.Done()
}

// Close releases resources of a server whose Serve was never called.
func (s *Server) Close() error {
	if s.serving.CompareAndSwap(false, true) {
		s.close()
	}
	return nil
}

// Stats is safe from any goroutine.
func (s *Server) Stats() Stats {
	st := Stats{
		Address:  s.listener.Addr().String(),
		Active:   s.active.Load(),
		Accepted: s.accepted.Load(),
		Buffers:  s.pool.Stats(),

		AcceptTokens: s.limiter.Tokens(),
	}
	if t := s.poller.Table(); t != nil {
		st.Registrations = t.Len()
	}
	return st
}

// admit wraps an accepted descriptor in a Conn and registers it for reads.
func (s *Server) admit(fd int, sa unix.Sockaddr) {
	peer := tcpAddrOf(sa).String()
	if !s.limiter.Allow() {
		s.reject(fd, peer, "rate_limit")
		return
	}
	if limit := s.cfg.MaxConnections; limit > 0 && s.active.Load() >= int64(limit) {
		s.reject(fd, peer, "max_connections")
		return
	}

	c := newConn(s, fd, uuid.NewString(), peer)
	if err := s.poller.Register(fd, interestRead, c); err != nil {
		c.logger().WithError(err).Warn("register connection")
		s.pool.Put(c.buf)
		_ = unix.Close(fd)
		s.metrics.ConnectionRejected("register")
		return
	}
	s.accepted.Add(1)
	s.metrics.ConnectionAccepted()
	s.metrics.SetActiveConnections(int(s.active.Add(1)))
	c.logger().Debug("accepted")
}

// listenerFailed stops accepting for good: the listener is dropped from the
// poller so the level-triggered condition cannot spin the loop, and Serve
// returns err once the loop exits.
func (s *Server) listenerFailed(err error) {
	s.log.WithError(err).Error("listener failed, stopping")
	if derr := s.poller.Deregister(s.listener.Fd()); derr != nil && !errors.Is(derr, api.ErrNotRegistered) {
		s.log.WithError(derr).Warn("deregister listener")
	}
	if s.fault == nil {
		s.fault = err
	}
	s.loop.Stop()
}

func (s *Server) reject(fd int, peer, reason string) {
	_ = unix.Close(fd)
	s.metrics.ConnectionRejected(reason)
	s.log.WithFields(logrus.Fields{"peer": peer, "reason": reason}).Debug("connection refused")
}

// release is called exactly once per Conn from Conn.close.
func (s *Server) release(c *Conn, reason string) {
	s.metrics.ConnectionClosed(reason)
	s.metrics.SetActiveConnections(int(s.active.Add(-1)))
	c.logger().WithField("reason", reason).Debug("closed")
}

// sweep closes connections with no successful I/O for longer than
// IdleTimeout and draining connections past their linger deadline.
func (s *Server) sweep(time.Time) {
	now := s.now()
	idle, lingered := 0, 0
	s.connections(func(c *Conn) {
		switch {
		case c.state == StateDraining:
			if now.After(c.drainDeadline) {
				c.close(c.closeReason)
				lingered++
			}
		case s.cfg.IdleTimeout > 0 && now.Sub(c.lastActive) > s.cfg.IdleTimeout:
			c.close(ReasonIdle)
			idle++
		}
	})
	if idle > 0 || lingered > 0 {
		s.log.WithFields(logrus.Fields{"idle": idle, "lingered": lingered}).Debug("sweep closed connections")
	}
}

func (s *Server) connections(fn func(*Conn)) {
	s.poller.Table().Range(func(r reactor.Registration) bool {
		if c, ok := r.Handler.(*Conn); ok {
			fn(c)
		}
		return true
	})
}

// close runs once, after the loop stopped: connections, listener, wakeup, poller.
func (s *Server) close() {
	s.teardown.Do(func() {
		n := 0
		s.connections(func(c *Conn) {
			c.close(ReasonShutdown)
			n++
		})
		if err := s.poller.Deregister(s.listener.Fd()); err != nil && !errors.Is(err, api.ErrNotRegistered) {
			s.log.WithError(err).Warn("deregister listener")
		}
		if err := s.listener.Close(); err != nil {
			s.log.WithError(err).Warn("close listener")
		}
		if err := s.loop.Close(); err != nil {
			s.log.WithError(err).Warn("close wakeup")
		}
		if err := s.poller.Close(); err != nil {
			s.log.WithError(err).Warn("close poller")
		}
		if s.probes != nil {
			s.probes.UnregisterProbe("server")
		}
		s.log.WithField("closed", n).Infof("server on %s stopped", s.listener.Addr())
	})
}
