//go:build windows

package process

import (
	"errors"
	"os"
)

// Windows has no SIGTERM equivalent for console-less children; both paths
// end in TerminateProcess.
func requestStop(pid int) error { return forceKill(pid) }

func forceKill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
