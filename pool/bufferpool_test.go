package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolReusesBuffers(t *testing.T) {
	p := NewBufferPool(1024, 2)

	a := p.Get()
	require.Len(t, a, 1024)
	a[0] = 42
	p.Put(a)

	b := p.Get()
	assert.Equal(t, byte(42), b[0], "expected the same backing array back")
	st := p.Stats()
	assert.Equal(t, uint64(1), st.Allocated)
	assert.Equal(t, uint64(1), st.Reused)
	assert.Equal(t, int64(1), st.InUse)
}

func TestBufferPoolCapacityBound(t *testing.T) {
	p := NewBufferPool(16, 1)
	a, b := p.Get(), p.Get()
	p.Put(a)
	p.Put(b)
	st := p.Stats()
	assert.Equal(t, 1, st.Idle)
	assert.Equal(t, int64(0), st.InUse)
}

func TestBufferPoolDropsForeignBuffers(t *testing.T) {
	p := NewBufferPool(16, 4)
	_ = p.Get()
	p.Put(make([]byte, 8))
	assert.Equal(t, 0, p.Stats().Idle)
	p.Put(nil)
	assert.Equal(t, int64(0), p.Stats().InUse)
}
