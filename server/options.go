// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/momentics/hioload-pipeline/control"
	"github.com/sirupsen/logrus"
)

// ServerOption customizes server initialization.
type ServerOption func(*options)

type options struct {
	metrics control.Metrics
	probes  *control.DebugProbes
	log     *logrus.Entry
	now     func() time.Time
}

// WithMetrics attaches a metrics sink. Defaults to no-op.
func WithMetrics(m control.Metrics) ServerOption {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithDebugProbes registers server probes on dp.
func WithDebugProbes(dp *control.DebugProbes) ServerOption {
	return func(o *options) {
		o.probes = dp
	}
}

// WithLogger overrides the server logger.
func WithLogger(entry *logrus.Entry) ServerOption {
	return func(o *options) {
		if entry != nil {
			o.log = entry
		}
	}
}

// WithClock overrides the time source used for the Date header and idle tracking.
func WithClock(now func() time.Time) ServerOption {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
