//go:build linux
// +build linux

// File: server/listener_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking listening socket driven by reactor readiness.

package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/momentics/hioload-pipeline/api"
	"golang.org/x/sys/unix"
)

// Listener owns the bound, listening descriptor.
type Listener struct {
	fd     int
	cfg    ListenerConfig
	addr   *net.TCPAddr
	srv    *Server
	closed bool
}

// Listen creates, binds and listens. Every failure is a configuration error.
func Listen(cfg ListenerConfig) (*Listener, error) {
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultListenerConfig().Backlog
	}
	if cfg.AcceptBatch <= 0 {
		cfg.AcceptBatch = 1
	}
	hostPort := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", hostPort)
	if err != nil {
		return nil, configErr("resolve", hostPort, err)
	}

	family, sa := sockaddrOf(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, configErr("socket", hostPort, err)
	}
	fail := func(op string, err error) (*Listener, error) {
		_ = unix.Close(fd)
		return nil, configErr(op, hostPort, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt SO_REUSEADDR", err)
	}
	if cfg.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return fail("setsockopt SO_REUSEPORT", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, cfg.Backlog); err != nil {
		return fail("listen", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}

	return &Listener{
		fd:   fd,
		cfg:  cfg,
		addr: tcpAddrOf(bound),
	}, nil
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Addr returns the bound address; a zero port in the config resolves here.
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// Config returns the immutable listener configuration.
func (l *Listener) Config() ListenerConfig { return l.cfg }

func (l *Listener) Kind() api.HandlerKind { return api.KindListener }

// HandleEvent accepts up to AcceptBatch pending connections.
// Per-connection failures never tear the listener down.
func (l *Listener) HandleEvent(fd int, mask api.EventMask) {
	if mask.Failed() {
		cause := fmt.Errorf("listener event %s: %w", mask, api.ErrClosed)
		if soErr, err := unix.GetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_ERROR); err == nil && soErr != 0 {
			cause = fmt.Errorf("listener event %s: %w", mask, unix.Errno(soErr))
		}
		l.srv.listenerFailed(configErr("poll", l.addr.String(), cause))
		return
	}
	for i := 0; i < l.cfg.AcceptBatch; i++ {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
				return
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				l.srv.log.WithError(api.NewError(api.ErrCodeTransport, "accept", err)).Warn("accept failed")
				return
			}
		}
		if err := l.configure(nfd); err != nil {
			l.srv.log.WithError(api.NewError(api.ErrCodeTransport, "configure accepted socket", err)).Warn("dropping connection")
			_ = unix.Close(nfd)
			l.srv.metrics.ConnectionRejected("configure")
			continue
		}
		l.srv.admit(nfd, sa)
	}
}

// configure applies per-connection socket options. Accept4 already made it non-blocking.
func (l *Listener) configure(fd int) error {
	if l.cfg.NoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("TCP_NODELAY: %w", err)
		}
	}
	if l.cfg.KeepAlive {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return fmt.Errorf("SO_KEEPALIVE: %w", err)
		}
		if secs := int(l.cfg.KeepAliveIdle.Seconds()); secs > 0 {
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
				return fmt.Errorf("TCP_KEEPIDLE: %w", err)
			}
		}
	}
	return nil
}

// Close closes the listening descriptor. The caller deregisters it first.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.fd)
}

func configErr(op, addr string, err error) error {
	return api.NewError(api.ErrCodeConfiguration, op, err).WithContext("address", addr)
}

func sockaddrOf(a *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := a.IP.To4(); ip4 != nil || a.IP == nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	if a.Zone != "" {
		if ifi, err := net.InterfaceByName(a.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa
}

func tcpAddrOf(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]), Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	default:
		return &net.TCPAddr{}
	}
}
