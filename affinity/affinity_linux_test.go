//go:build linux

package affinity

import (
	"testing"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinRejectsOutOfRange(t *testing.T) {
	assert.ErrorIs(t, Pin(-1), api.ErrInvalidArgument)
	assert.ErrorIs(t, Pin(1<<20), api.ErrInvalidArgument)
}

func TestPinBindsCallingThread(t *testing.T) {
	allowed, err := Current()
	require.NoError(t, err)
	require.NotEmpty(t, allowed)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// The locked thread is discarded when this goroutine exits.
		if !assert.NoError(t, Pin(allowed[0])) {
			return
		}
		cpus, err := Current()
		assert.NoError(t, err)
		assert.Equal(t, []int{allowed[0]}, cpus)
	}()
	<-done
}
