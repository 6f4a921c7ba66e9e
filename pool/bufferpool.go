// File: pool/bufferpool.go
// Package pool implements fixed-size read buffer recycling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"
)

const defaultPoolCapacity = 4096

// BufferPool hands out fixed-size byte slices and keeps up to capacity
// returned ones for reuse. A connection holds one buffer for its lifetime.
type BufferPool struct {
	size     int
	capacity int

	mu   sync.Mutex
	free [][]byte

	totalAlloc atomic.Uint64
	totalReuse atomic.Uint64
	inUse      atomic.Int64
}

// NewBufferPool creates a pool of size-byte buffers retaining at most
// capacity idle buffers. capacity <= 0 selects the default.
func NewBufferPool(size, capacity int) *BufferPool {
	if capacity <= 0 {
		capacity = defaultPoolCapacity
	}
	return &BufferPool{
		size:     size,
		capacity: capacity,
		free:     make([][]byte, 0, min(capacity, 64)),
	}
}

// Size returns the length of every buffer.
func (p *BufferPool) Size() int {
	return p.size
}

// Get returns a buffer of exactly Size bytes.
func (p *BufferPool) Get() []byte {
	p.inUse.Add(1)
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		p.totalReuse.Add(1)
		return buf
	}
	p.mu.Unlock()
	p.totalAlloc.Add(1)
	return make([]byte, p.size)
}

// Put returns buf to the pool. Buffers of the wrong size are dropped.
func (p *BufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	p.inUse.Add(-1)
	if cap(buf) != p.size {
		return
	}
	p.mu.Lock()
	if len(p.free) < p.capacity {
		p.free = append(p.free, buf[:p.size])
	}
	p.mu.Unlock()
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Allocated uint64 `json:"allocated"`
	Reused    uint64 `json:"reused"`
	InUse     int64  `json:"in_use"`
	Idle      int    `json:"idle"`
}

// Stats returns allocation counters.
func (p *BufferPool) Stats() Stats {
	p.mu.Lock()
	idle := len(p.free)
	p.mu.Unlock()
	return Stats{
		Allocated: p.totalAlloc.Load(),
		Reused:    p.totalReuse.Load(),
		InUse:     p.inUse.Load(),
		Idle:      idle,
	}
}
