// File: reply/batch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Precomputed reply batches: one unit replicated up to the maximum pipeline
// depth, so answering k requests is a prefix slice with no allocation.

package reply

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/momentics/hioload-pipeline/api"
)

// Outcome selects which reply unit answers a batch.
type Outcome uint8

const (
	Accept Outcome = iota
	Reject
)

func (o Outcome) String() string {
	if o == Reject {
		return "reject"
	}
	return "accept"
}

// Body is the fixed 13-byte payload carried by both units.
const Body = "Hello, World!"

// DefaultServerName is the Server header value of the reference benchmark.
const DefaultServerName = "j"

// UnitTemplate renders the canonical reply unit for outcome.
func UnitTemplate(o Outcome, serverName string, date time.Time) []byte {
	d := date.UTC().Format(http.TimeFormat)
	if o == Reject {
		return []byte("HTTP/1.1 400 Bad Request\r\nServer: " + serverName + "\r\nDate: " + d +
			"\r\nContent-Type: text/plain\r\nContent-Length: 13\r\nConnection: close\r\n\r\n" + Body)
	}
	return []byte("HTTP/1.1 200 OK\r\nServer: " + serverName + "\r\nDate: " + d +
		"\r\nContent-Type: text/plain\r\nContent-Length: 13\r\n\r\n" + Body)
}

// Batch holds a unit repeated maxDepth times. Immutable after Build.
type Batch struct {
	outcome  Outcome
	buf      []byte
	unitLen  int
	maxDepth int
}

// Build replicates unit maxDepth times into one contiguous buffer.
func Build(o Outcome, unit []byte, maxDepth int) (*Batch, error) {
	if len(unit) == 0 {
		return nil, fmt.Errorf("build %s batch: empty unit: %w", o, api.ErrInvalidArgument)
	}
	if maxDepth <= 0 {
		return nil, fmt.Errorf("build %s batch: depth %d: %w", o, maxDepth, api.ErrInvalidArgument)
	}
	return &Batch{
		outcome:  o,
		buf:      bytes.Repeat(unit, maxDepth),
		unitLen:  len(unit),
		maxDepth: maxDepth,
	}, nil
}

// SliceFor returns the first k units. The result aliases the shared buffer
// and must not be written to.
func (b *Batch) SliceFor(k int) ([]byte, error) {
	if k < 0 {
		return nil, fmt.Errorf("slice %s batch: k=%d: %w", b.outcome, k, api.ErrInvalidArgument)
	}
	if k > b.maxDepth {
		return nil, fmt.Errorf("slice %s batch: k=%d max=%d: %w", b.outcome, k, b.maxDepth, api.ErrDepthExceeded)
	}
	return b.buf[:k*b.unitLen : k*b.unitLen], nil
}

// Chunks returns k units as at most ceil(k/maxDepth) slices of the shared
// buffer, for batches deeper than the replicated capacity.
func (b *Batch) Chunks(k int) [][]byte {
	if k <= 0 {
		return nil
	}
	out := make([][]byte, 0, (k+b.maxDepth-1)/b.maxDepth)
	for k > 0 {
		n := min(k, b.maxDepth)
		out = append(out, b.buf[:n*b.unitLen:n*b.unitLen])
		k -= n
	}
	return out
}

// Unit returns a single reply unit.
func (b *Batch) Unit() []byte {
	return b.buf[:b.unitLen:b.unitLen]
}

func (b *Batch) UnitLen() int     { return b.unitLen }
func (b *Batch) MaxDepth() int    { return b.maxDepth }
func (b *Batch) Outcome() Outcome { return b.outcome }

// Set holds the accept and reject batches built once at startup.
type Set struct {
	Accept *Batch
	Reject *Batch
}

// NewSet builds both batches with the Date header fixed at now.
func NewSet(serverName string, maxDepth int, now time.Time) (*Set, error) {
	if serverName == "" {
		serverName = DefaultServerName
	}
	acc, err := Build(Accept, UnitTemplate(Accept, serverName, now), maxDepth)
	if err != nil {
		return nil, err
	}
	rej, err := Build(Reject, UnitTemplate(Reject, serverName, now), maxDepth)
	if err != nil {
		return nil, err
	}
	return &Set{Accept: acc, Reject: rej}, nil
}

// For returns the batch of outcome o.
func (s *Set) For(o Outcome) *Batch {
	if o == Reject {
		return s.Reject
	}
	return s.Accept
}
