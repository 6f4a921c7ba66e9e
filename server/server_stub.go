//go:build !linux
// +build !linux

// File: server/server_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package server

import (
	"context"
	"net"

	"github.com/momentics/hioload-pipeline/api"
)

// Server is unavailable outside Linux.
type Server struct{}

// Stats is empty outside Linux.
type Stats struct{}

// New returns api.ErrNotSupported on unsupported platforms.
func New(cfg *Config, opts ...ServerOption) (*Server, error) {
	return nil, api.NewError(api.ErrCodeConfiguration, "epoll reactor", api.ErrNotSupported)
}

func (s *Server) Addr() *net.TCPAddr { return nil }

func (s *Server) Serve(ctx context.Context) error { return api.ErrNotSupported }

func (s *Server) Shutdown() {}

func (s *Server) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (s *Server) Close() error { return nil }

func (s *Server) Stats() Stats { return Stats{} }
