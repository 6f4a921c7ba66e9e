// control/platform.go
// Author: momentics <momentics@gmail.com>
//
// Process-level debug probes.

package control

import (
	"runtime"
)

// RegisterPlatformProbes adds runtime facts to dp.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
	dp.RegisterProbe("platform.os", func() any {
		return runtime.GOOS + "/" + runtime.GOARCH
	})
}
