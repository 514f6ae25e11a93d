//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group. A controller
// terminated by Ctrl-C then does not take the service down with it, while
// stop can still signal the whole group.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
