//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// signalGroup delivers sig to the process group led by pid, falling back to
// the single process when pid is not a group leader (e.g. started by a script).
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if err2 := syscall.Kill(pid, sig); err2 != nil {
		if errors.Is(err2, syscall.ESRCH) {
			return nil
		}
		return err2
	}
	return nil
}

func requestStop(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

func forceKill(pid int) error { return signalGroup(pid, syscall.SIGKILL) }
