// File: protocol/framing.go
// Package protocol counts HTTP-style request boundaries in a byte stream.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Only framing is recognized: a request ends at the blank line (CRLFCRLF)
// closing its header block. Headers and bodies are never parsed.

package protocol

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/momentics/hioload-pipeline/api"
)

// Delimiter terminates every request header block.
var Delimiter = []byte("\r\n\r\n")

// Counter reports how many complete requests a chunk of bytes finished.
// Implementations may keep state between calls; one Counter per connection.
type Counter interface {
	Feed(p []byte) int
	Reset()
}

// Framing names a Counter implementation.
type Framing string

const (
	// FramingDelimiter counts CRLFCRLF boundaries, tracking a delimiter
	// split across reads.
	FramingDelimiter Framing = "delimiter"
	// FramingPerRead treats every non-empty read as exactly one request.
	FramingPerRead Framing = "per_read"
)

// ParseFraming validates a framing name.
func ParseFraming(s string) (Framing, error) {
	switch f := Framing(strings.ToLower(s)); f {
	case FramingDelimiter, FramingPerRead:
		return f, nil
	case "":
		return FramingDelimiter, nil
	default:
		return "", fmt.Errorf("framing %q: %w", s, api.ErrInvalidArgument)
	}
}

// NewCounter returns a fresh Counter for f.
func NewCounter(f Framing) Counter {
	if f == FramingPerRead {
		return perRead{}
	}
	return &DelimiterCounter{}
}

// DelimiterCounter counts non-overlapping CRLFCRLF occurrences across calls.
type DelimiterCounter struct {
	// matched is how many leading delimiter bytes ended the previous chunk.
	matched int
}

// Feed scans p and returns the number of delimiters completed inside it.
func (c *DelimiterCounter) Feed(p []byte) int {
	k := 0
	s := c.matched
	for i := 0; i < len(p); {
		if s == 0 {
			j := bytes.IndexByte(p[i:], '\r')
			if j < 0 {
				break
			}
			i += j + 1
			s = 1
			continue
		}
		b := p[i]
		i++
		switch {
		case b == Delimiter[s]:
			s++
			if s == len(Delimiter) {
				k++
				s = 0
			}
		case b == '\r':
			s = 1
		default:
			s = 0
		}
	}
	c.matched = s
	return k
}

// Reset drops any partial delimiter state.
func (c *DelimiterCounter) Reset() {
	c.matched = 0
}

type perRead struct{}

func (perRead) Feed(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	return 1
}

func (perRead) Reset() {}

// Count is the stateless form of DelimiterCounter for a self-contained buffer.
func Count(p []byte) int {
	return bytes.Count(p, Delimiter)
}
