package reply

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedDate = time.Date(2022, time.August, 12, 6, 1, 35, 0, time.UTC)

func TestUnitTemplateCanonicalForms(t *testing.T) {
	ok := string(UnitTemplate(Accept, "j", fixedDate))
	assert.Equal(t, "HTTP/1.1 200 OK\r\nServer: j\r\nDate: Fri, 12 Aug 2022 06:01:35 GMT\r\n"+
		"Content-Type: text/plain\r\nContent-Length: 13\r\n\r\nHello, World!", ok)

	bad := string(UnitTemplate(Reject, "j", fixedDate))
	assert.True(t, strings.HasPrefix(bad, "HTTP/1.1 400 Bad Request\r\n"))
	assert.Contains(t, bad, "\r\nConnection: close\r\n\r\nHello, World!")
	assert.True(t, strings.HasSuffix(bad, "\r\n\r\n"+Body))
}

func TestBuildRejectsBadInput(t *testing.T) {
	_, err := Build(Accept, nil, 4)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = Build(Accept, []byte("x"), 0)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSliceForReturnsKUnits(t *testing.T) {
	unit := UnitTemplate(Accept, "j", fixedDate)
	b, err := Build(Accept, unit, 1024)
	require.NoError(t, err)

	for _, k := range []int{0, 1, 5, 1024} {
		got, err := b.SliceFor(k)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat(unit, k), got, "k=%d", k)
	}

	_, err = b.SliceFor(1025)
	assert.ErrorIs(t, err, api.ErrDepthExceeded)
	_, err = b.SliceFor(-1)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSliceForIsIdempotentAndReadOnly(t *testing.T) {
	b, err := Build(Accept, []byte("abc"), 8)
	require.NoError(t, err)

	first, err := b.SliceFor(3)
	require.NoError(t, err)
	second, err := b.SliceFor(3)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// appending to a returned slice must not reach into the shared buffer
	_ = append(first, 'X')
	again, err := b.SliceFor(4)
	require.NoError(t, err)
	assert.Equal(t, "abcabcabcabc", string(again))
}

func TestChunksCoverDeepBatches(t *testing.T) {
	unit := []byte("u.")
	b, err := Build(Reject, unit, 4)
	require.NoError(t, err)

	chunks := b.Chunks(10)
	require.Len(t, chunks, 3)
	assert.Equal(t, bytes.Repeat(unit, 10), bytes.Join(chunks, nil))
	assert.Nil(t, b.Chunks(0))
}

func TestNewSetDefaultsServerName(t *testing.T) {
	s, err := NewSet("", 16, fixedDate)
	require.NoError(t, err)
	assert.Contains(t, string(s.Accept.Unit()), "Server: j\r\n")
	assert.Equal(t, Reject, s.For(Reject).Outcome())
	assert.Equal(t, 16, s.Accept.MaxDepth())
	assert.Equal(t, len(UnitTemplate(Reject, "j", fixedDate)), s.Reject.UnitLen())
}
