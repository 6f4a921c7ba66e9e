//go:build linux
// +build linux

// File: server/conn_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection handler: read, count request boundaries, answer with a
// precomputed batch, buffer what the kernel did not take.

package server

import (
	"errors"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/protocol"
	"github.com/momentics/hioload-pipeline/reply"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// State of a connection.
type State uint8

const (
	StateActive State = iota
	StateClosing
	// StateDraining: replies flushed, write side shut, input discarded until EOF.
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateDraining:
		return "draining"
	default:
		return "closed"
	}
}

// Close reasons reported to metrics and logs.
const (
	ReasonPeerClosed       = "peer_closed"
	ReasonReadError        = "read_error"
	ReasonWriteError       = "write_error"
	ReasonHangup           = "hangup"
	ReasonSocketError      = "socket_error"
	ReasonPipelineOverflow = "pipeline_overflow"
	ReasonIdle             = "idle"
	ReasonSlowConsumer     = "slow_consumer"
	ReasonShutdown         = "shutdown"
)

// maxIovec stays under IOV_MAX for a single writev(2).
const maxIovec = 1024

// maxDiscardReads bounds the reads one event may spend on a draining connection.
const maxDiscardReads = 16

const (
	interestRead  = api.EventRead | api.EventError | api.EventHangup
	interestWrite = api.EventWrite | api.EventError | api.EventHangup
)

// Conn is one accepted client channel.
type Conn struct {
	fd      int
	id      string
	peer    string
	srv     *Server
	buf     []byte
	counter protocol.Counter

	// pending holds unsent reply slices in order; headOff is how much of
	// the head slice the kernel already took.
	pending      *queue.Queue
	headOff      int
	pendingBytes int
	iov          [][]byte

	interest      api.EventMask
	state         State
	closeReason   string
	lastActive    time.Time
	drainDeadline time.Time
	log           *logrus.Entry
}

func newConn(s *Server, fd int, id, peer string) *Conn {
	return &Conn{
		fd:         fd,
		id:         id,
		peer:       peer,
		srv:        s,
		buf:        s.pool.Get(),
		counter:    protocol.NewCounter(s.cfg.Framing),
		interest:   interestRead,
		state:      StateActive,
		lastActive: s.now(),
	}
}

func (c *Conn) Kind() api.HandlerKind { return api.KindConnection }

// Fd returns the connection descriptor.
func (c *Conn) Fd() int { return c.fd }

// ID returns the session id used in logs; descriptors get reused, ids do not.
func (c *Conn) ID() string { return c.id }

// State returns the lifecycle state.
func (c *Conn) State() State { return c.state }

// PendingBytes reports reply bytes waiting for write readiness.
func (c *Conn) PendingBytes() int { return c.pendingBytes }

func (c *Conn) logger() *logrus.Entry {
	if c.log == nil {
		c.log = c.srv.log.WithFields(logrus.Fields{"fd": c.fd, "conn": c.id, "peer": c.peer})
	}
	return c.log
}

// HandleEvent runs the connection state machine for one readiness event.
func (c *Conn) HandleEvent(fd int, mask api.EventMask) {
	if c.state == StateClosed {
		return
	}
	if mask.Failed() {
		if c.state == StateDraining {
			c.discard()
			c.close(c.closeReason)
			return
		}
		if mask.Has(api.EventError) {
			c.close(ReasonSocketError)
		} else {
			c.close(ReasonHangup)
		}
		return
	}
	if mask&api.EventWrite != 0 && !c.flush() {
		return
	}
	if mask&api.EventRead == 0 {
		return
	}
	switch c.state {
	case StateActive:
		c.onReadable()
	case StateDraining:
		if c.discard() {
			c.close(c.closeReason)
		}
	}
}

func (c *Conn) onReadable() {
	n, err := unix.Read(c.fd, c.buf)
	switch {
	case err != nil:
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		c.logger().WithError(api.NewError(api.ErrCodeTransport, "recv", err)).Warn("read failed")
		c.close(ReasonReadError)
	case n == 0:
		c.close(ReasonPeerClosed)
	default:
		c.lastActive = c.srv.now()
		c.respond(c.counter.Feed(c.buf[:n]))
	}
}

// respond answers k complete requests. Outcomes are never mixed within one batch.
func (c *Conn) respond(k int) {
	if k == 0 {
		return
	}
	replies := c.srv.replies
	if k <= replies.Accept.MaxDepth() {
		b, err := replies.Accept.SliceFor(k)
		if err != nil {
			c.logger().WithError(err).Error("accept batch")
			c.close(ReasonWriteError)
			return
		}
		c.srv.metrics.BatchServed(reply.Accept.String(), k)
		c.send(b)
		return
	}

	// Admission control: answer every request with a rejection, then hang up.
	violation := api.NewError(api.ErrCodeProtocolViolation, "pipeline depth exceeded", api.ErrDepthExceeded).
		WithContext("k", k).
		WithContext("max_depth", replies.Accept.MaxDepth())
	c.logger().WithError(violation).Debug("rejecting batch")
	c.srv.metrics.BatchServed(reply.Reject.String(), k)
	c.state = StateClosing
	c.closeReason = ReasonPipelineOverflow
	c.send(replies.Reject.Chunks(k)...)
	if c.state == StateClosing && !c.hasPending() {
		c.linger()
	}
}

// send issues one write for bufs and queues whatever was not accepted.
func (c *Conn) send(bufs ...[]byte) {
	if c.hasPending() {
		c.enqueue(bufs)
		return
	}
	iov := bufs
	if len(iov) > maxIovec {
		iov = iov[:maxIovec]
	}
	n, err := c.write(iov)
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		c.logger().WithError(api.NewError(api.ErrCodeTransport, "send", err)).Warn("write failed")
		c.close(ReasonWriteError)
		return
	}
	if n > 0 {
		c.lastActive = c.srv.now()
		c.srv.metrics.BytesWritten(n)
	}
	rest := advance(bufs, n)
	if len(rest) == 0 {
		return
	}
	c.srv.metrics.ShortWrite()
	c.enqueue(rest)
}

func (c *Conn) write(iov [][]byte) (int, error) {
	var (
		n   int
		err error
	)
	for {
		if len(iov) == 1 {
			n, err = unix.Write(c.fd, iov[0])
		} else {
			n, err = unix.Writev(c.fd, iov)
		}
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func (c *Conn) hasPending() bool {
	return c.pending != nil && c.pending.Length() > 0
}

// enqueue parks bufs behind any pending output and arms write readiness.
func (c *Conn) enqueue(bufs [][]byte) {
	if c.pending == nil {
		c.pending = queue.New()
	}
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		c.pending.Add(b)
		c.pendingBytes += len(b)
	}
	if c.pendingBytes > c.srv.cfg.MaxPendingBytes {
		c.logger().WithField("pending", c.pendingBytes).Warn("peer is not reading replies")
		c.close(ReasonSlowConsumer)
		return
	}
	want := interestRead | api.EventWrite
	if c.state == StateClosing {
		want = interestWrite
	}
	c.setInterest(want)
}

// flush drains pending output. Returns false if the connection was closed.
func (c *Conn) flush() bool {
	for c.hasPending() {
		c.iov = c.iov[:0]
		total := 0
		for i := 0; i < c.pending.Length() && i < maxIovec; i++ {
			b := c.pending.Get(i).([]byte)
			if i == 0 {
				b = b[c.headOff:]
			}
			c.iov = append(c.iov, b)
			total += len(b)
		}
		n, err := c.write(c.iov)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return true
			}
			c.logger().WithError(api.NewError(api.ErrCodeTransport, "send", err)).Warn("flush failed")
			c.close(ReasonWriteError)
			return false
		}
		c.lastActive = c.srv.now()
		c.srv.metrics.BytesWritten(n)
		c.consume(n)
		if n < total {
			return true
		}
	}

	if c.state == StateClosing {
		c.linger()
		return c.state != StateClosed
	}
	c.setInterest(interestRead)
	return true
}

// linger shuts the write side once every reply is queued in the kernel and
// keeps reading so unread input does not turn the close into a reset.
func (c *Conn) linger() {
	if err := unix.Shutdown(c.fd, unix.SHUT_WR); err != nil {
		c.logger().WithError(err).Debug("shutdown")
		c.close(c.closeReason)
		return
	}
	c.state = StateDraining
	c.drainDeadline = c.srv.now().Add(c.srv.cfg.LingerTimeout)
	c.setInterest(interestRead)
	if c.state == StateDraining && c.discard() {
		c.close(c.closeReason)
	}
}

// discard reads and drops input. Reports true once the peer is done sending.
func (c *Conn) discard() bool {
	for i := 0; i < maxDiscardReads; i++ {
		n, err := unix.Read(c.fd, c.buf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return false
		case err != nil, n == 0:
			return true
		}
	}
	return false
}

// consume drops n written bytes from the head of the pending queue.
func (c *Conn) consume(n int) {
	c.pendingBytes -= n
	for n > 0 && c.pending.Length() > 0 {
		head := c.pending.Peek().([]byte)
		left := len(head) - c.headOff
		if n < left {
			c.headOff += n
			return
		}
		n -= left
		c.pending.Remove()
		c.headOff = 0
	}
}

func (c *Conn) setInterest(m api.EventMask) {
	if c.interest == m || c.state == StateClosed {
		return
	}
	if err := c.srv.poller.Modify(c.fd, m); err != nil {
		c.logger().WithError(err).Warn("modify interest")
		c.close(ReasonWriteError)
		return
	}
	c.interest = m
}

// close deregisters, then closes the descriptor. Idempotent.
func (c *Conn) close(reason string) {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	if err := c.srv.poller.Deregister(c.fd); err != nil && !errors.Is(err, api.ErrNotRegistered) {
		c.logger().WithError(err).Warn("deregister")
	}
	if err := unix.Close(c.fd); err != nil {
		c.logger().WithError(err).Debug("close")
	}
	c.srv.pool.Put(c.buf)
	c.buf = nil
	c.pending = nil
	c.pendingBytes = 0
	c.headOff = 0
	c.srv.release(c, reason)
}

// advance skips n written bytes across bufs and returns the unsent remainder.
func advance(bufs [][]byte, n int) [][]byte {
	for len(bufs) > 0 && n >= len(bufs[0]) {
		n -= len(bufs[0])
		bufs = bufs[1:]
	}
	if len(bufs) == 0 {
		return nil
	}
	if n > 0 {
		out := make([][]byte, len(bufs))
		copy(out, bufs)
		out[0] = out[0][n:]
		return out
	}
	return bufs
}
