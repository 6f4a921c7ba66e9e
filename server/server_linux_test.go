//go:build linux

package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-pipeline/affinity"
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer serves on an ephemeral loopback port until the test ends.
func startServer(t *testing.T, mutate func(*Config), opts ...ServerOption) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Listener.Port = 0
	cfg.Listener.ReusePort = false
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s
}

func dial(t *testing.T, s *Server) *net.TCPConn {
	t.Helper()
	conn, err := net.DialTCP("tcp", nil, s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func TestServeSingleRequestKeepsConnectionOpen(t *testing.T) {
	s := startServer(t, nil)
	conn := dial(t, s)

	_, err := conn.Write([]byte(minimalRequest))
	require.NoError(t, err)

	unit := s.Replies().Accept.Unit()
	got := make([]byte, len(unit))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, unit, got)

	// Nothing else arrives and the server keeps the connection.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = conn.Read(make([]byte, 1))
	var ne net.Error
	require.True(t, errors.As(err, &ne), "unexpected read result: %v", err)
	assert.True(t, ne.Timeout())
}

func TestServePipelinedRequests(t *testing.T) {
	s := startServer(t, nil)
	conn := dial(t, s)

	_, err := conn.Write([]byte(strings.Repeat(minimalRequest, 5)))
	require.NoError(t, err)

	want := bytes.Repeat(s.Replies().Accept.Unit(), 5)
	got := make([]byte, len(want))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestServeOverflowRejectsAndCloses(t *testing.T) {
	s := startServer(t, nil)
	conn := dial(t, s)

	_, err := conn.Write([]byte(strings.Repeat(minimalRequest, 2000)))
	require.NoError(t, err)

	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, 2000*s.Replies().Reject.UnitLen(), len(got))
	assert.Equal(t, bytes.Repeat(s.Replies().Reject.Unit(), 2000), got)
}

func TestServeOverflowLargerThanReadBuffer(t *testing.T) {
	s := startServer(t, nil)
	conn := dial(t, s)

	const sent = 5000
	payload := []byte(strings.Repeat(minimalRequest, sent))
	require.Greater(t, len(payload), s.Config().ReadBufferSize)

	wrote := make(chan struct{})
	go func() {
		defer close(wrote)
		_, _ = conn.Write(payload)
	}()

	got, err := io.ReadAll(conn)
	require.NoError(t, err, "reply stream must end with an orderly close")

	accept, reject := s.Replies().Accept.Unit(), s.Replies().Reject.Unit()
	accepted := 0
	for bytes.HasPrefix(got, accept) {
		got = got[len(accept):]
		accepted++
	}
	require.Zero(t, len(got)%len(reject))
	rejected := len(got) / len(reject)
	assert.Equal(t, bytes.Repeat(reject, rejected), got)
	assert.Greater(t, rejected, s.Config().MaxDepth)
	assert.LessOrEqual(t, accepted+rejected, sent)

	select {
	case <-wrote:
	case <-time.After(5 * time.Second):
		t.Fatal("client write did not finish")
	}
}

func TestServeHalfCloseGetsNoReply(t *testing.T) {
	s := startServer(t, nil)
	conn := dial(t, s)

	require.NoError(t, conn.CloseWrite())
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestServeCountsConnections(t *testing.T) {
	m := newRecordingMetrics()
	dp := control.NewDebugProbes()
	s := startServer(t, nil, WithMetrics(m), WithDebugProbes(dp))

	conn := dial(t, s)
	_, err := conn.Write([]byte(minimalRequest))
	require.NoError(t, err)
	_, err = io.ReadFull(conn, make([]byte, s.Replies().Accept.UnitLen()))
	require.NoError(t, err)

	assert.EqualValues(t, 1, s.Stats().Active)
	assert.EqualValues(t, 1, s.Stats().Accepted)
	// listener, wakeup and one connection
	assert.Equal(t, 3, s.Stats().Registrations)
	assert.Equal(t, float64(-1), s.Stats().AcceptTokens)
	assert.Contains(t, dp.DumpState(), "server")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return m.closedWith(ReasonPeerClosed) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, s.Stats().Active)
}

func TestServeMaxConnections(t *testing.T) {
	s := startServer(t, func(c *Config) { c.MaxConnections = 1 })

	first := dial(t, s)
	_, err := first.Write([]byte(minimalRequest))
	require.NoError(t, err)
	_, err = io.ReadFull(first, make([]byte, s.Replies().Accept.UnitLen()))
	require.NoError(t, err)

	second := dial(t, s)
	got, err := io.ReadAll(second)
	if err == nil {
		assert.Empty(t, got)
	}
}

func TestServePinnedLoop(t *testing.T) {
	cpus, err := affinity.Current()
	require.NoError(t, err)
	s := startServer(t, func(c *Config) {
		c.PinLoop = true
		c.CPU = cpus[len(cpus)-1]
	})
	conn := dial(t, s)

	_, err = conn.Write([]byte(minimalRequest))
	require.NoError(t, err)
	got := make([]byte, s.Replies().Accept.UnitLen())
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, s.Replies().Accept.Unit(), got)
}

func TestServeTwiceFails(t *testing.T) {
	s := startServer(t, nil)
	require.Eventually(t, func() bool { return s.serving.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Serve(context.Background()), ErrAlreadyRunning)
}

func TestShutdownStopsServe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listener.Port = 0
	s, err := New(cfg)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background()) }()
	conn := dial(t, s)

	s.Shutdown()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
	<-s.Done()

	got, err := io.ReadAll(conn)
	if err == nil {
		assert.Empty(t, got)
	}
	_, err = net.DialTCP("tcp", nil, s.Addr())
	assert.Error(t, err)
}

func TestListenerFailureStopsServe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listener.Port = 0
	s, err := New(cfg)
	require.NoError(t, err)

	lfd := s.listener.Fd()
	s.listener.HandleEvent(lfd, api.EventError)
	_, ok := s.poller.Table().Lookup(lfd)
	assert.False(t, ok)

	err = s.Serve(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsConfiguration(err))
	<-s.Done()
}

func TestNewRejectsBusyPort(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := DefaultConfig()
	cfg.Listener.Port = taken.Addr().(*net.TCPAddr).Port
	cfg.Listener.ReusePort = false
	_, err = New(cfg)
	require.Error(t, err)
	assert.True(t, api.IsConfiguration(err))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDepth = 0
	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, api.IsConfiguration(err))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	cfg = DefaultConfig()
	cfg.Framing = "chunked"
	_, err = New(cfg)
	assert.True(t, api.IsConfiguration(err))
}

func TestCloseWithoutServe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listener.Port = 0
	s, err := New(cfg)
	require.NoError(t, err)
	addr := s.Addr()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = net.DialTCP("tcp", nil, addr)
	assert.Error(t, err)
	assert.ErrorIs(t, s.Serve(context.Background()), ErrAlreadyRunning)
}
