// Package lifecycle holds process-wide state that outlives a single request.
package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// SetShuttingDown marks the process as draining. main sets it on SIGTERM/SIGINT before
// stopping the listener; /readyz reports DOWN from then on.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process has begun draining.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
