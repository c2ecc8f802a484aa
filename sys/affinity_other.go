//go:build !linux

package sys

import "runtime"

// PinThread is a best-effort fallback on platforms without
// sched_setaffinity: it still locks the goroutine to its OS thread so the
// engine's single-threaded assumptions hold, but cannot bind to a specific
// core.
func PinThread(core int) error {
	_ = core
	runtime.LockOSThread()
	return nil
}
