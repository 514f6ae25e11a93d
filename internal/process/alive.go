package process

import (
	"net"
	"strconv"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// IsRunning reports whether pid is present in the OS process table and has not
// exited. A zombie counts as exited. PID reuse is not detected.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil || !ok {
		return false
	}
	p, err := gopsproc.NewProcess(int32(pid)) // #nosec G115
	if err != nil {
		return false
	}
	if st, err := p.Status(); err == nil {
		for _, s := range st {
			if s == gopsproc.Zombie {
				return false
			}
		}
	}
	return true
}

// IsPortListening reports whether any local TCP socket is in LISTEN state on
// port. When the socket table cannot be read a loopback dial is used instead.
func IsPortListening(port int) bool {
	if port <= 0 || port > 65535 {
		return false
	}
	conns, err := gopsnet.Connections("tcp")
	if err == nil {
		for _, c := range conns {
			if c.Status == "LISTEN" && c.Laddr.Port == uint32(port) { // #nosec G115
				return true
			}
		}
		if len(conns) > 0 {
			return false
		}
	}
	return dialLoopback(port)
}

func dialLoopback(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
