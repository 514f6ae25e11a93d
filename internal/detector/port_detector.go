package detector

import (
	"fmt"

	"github.com/loykin/remoto/internal/process"
)

// PortDetector is alive while something listens on the TCP port, regardless
// of who started it.
type PortDetector struct{ Port int }

func (d PortDetector) Alive() (bool, error) { return process.IsPortListening(d.Port), nil }
func (d PortDetector) Describe() string     { return fmt.Sprintf("port:%d", d.Port) }
