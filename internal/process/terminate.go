package process

import (
	"time"
)

// DefaultGracePeriod is how long a graceful stop waits before escalating.
const DefaultGracePeriod = 5 * time.Second

const pollInterval = 100 * time.Millisecond

// Terminate stops pid. With force the process group is killed immediately;
// otherwise it is asked to exit and killed only if still alive after
// DefaultGracePeriod. Terminating a pid that is already gone is a no-op.
func Terminate(pid int, force bool) error {
	return TerminateWithin(pid, force, DefaultGracePeriod)
}

// TerminateWithin is Terminate with an explicit grace period.
func TerminateWithin(pid int, force bool, grace time.Duration) error {
	if pid <= 0 || !IsRunning(pid) {
		return nil
	}
	if force {
		if err := forceKill(pid); err != nil {
			return err
		}
		waitGone(pid, time.Second)
		return nil
	}
	if err := requestStop(pid); err != nil {
		return err
	}
	if waitGone(pid, grace) {
		return nil
	}
	if err := forceKill(pid); err != nil {
		return err
	}
	waitGone(pid, time.Second)
	return nil
}

// waitGone polls until pid disappears or d elapses.
func waitGone(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !IsRunning(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
