// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-pipeline/api"
)

// NoCPU disables pinning.
const NoCPU = -1

// maxCPU matches CPU_SETSIZE.
const maxCPU = 1024

// Pin locks the calling goroutine to its OS thread and binds that thread to
// cpuID. The thread stays locked: when the goroutine exits the runtime
// discards the thread instead of handing its narrowed mask to other
// goroutines. Only pin goroutines that are dedicated to one job.
func Pin(cpuID int) error {
	if cpuID < 0 || cpuID >= maxCPU {
		return fmt.Errorf("affinity: cpu %d outside [0,%d): %w", cpuID, maxCPU, api.ErrInvalidArgument)
	}
	runtime.LockOSThread()
	if err := setAffinityPlatform(cpuID); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

// Current reports the CPUs the calling thread may run on.
func Current() ([]int, error) {
	return currentPlatform()
}
