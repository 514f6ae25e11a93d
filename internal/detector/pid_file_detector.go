package detector

import (
	"fmt"

	"github.com/loykin/remoto/internal/process"
)

// PIDFileDetector detects a process via a PID file. A missing or unparsable
// file means not running, never an error.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	pid, ok := process.ReadPIDFile(d.PIDFile)
	if !ok {
		return false, nil
	}
	return process.IsRunning(pid), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return process.IsRunning(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
