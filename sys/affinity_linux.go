//go:build linux

package sys

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinThread locks the calling goroutine to its current OS thread and binds
// that thread to a single CPU core. Engine.Init calls this exactly once,
// from the goroutine that will run the engine's cooperative loop for the
// rest of its life (spec.md §4.7 step 1).
func PinThread(core int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sys: pin to core %d: %w", core, err)
	}
	return nil
}
