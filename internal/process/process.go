package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/remoto/internal/logger"
)

// Spec describes a child process to launch.
type Spec struct {
	Name    string        // service name; also names the log file
	Path    string        // resolved executable path
	Args    []string      // arguments, not including Path
	WorkDir string        // optional working dir
	Env     []string      // full KEY=VALUE environment; nil inherits the controller's
	Log     logger.Config // where output goes for Spawn; the piped variant only uses it for naming
}

// Process is the in-memory handle of a child started by this invocation.
// Other invocations only ever see the PID file.
type Process struct {
	name      string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time

	mu      sync.Mutex
	exitErr error
	exited  bool
	done    chan struct{}
	closers []io.Closer
}

func (s Spec) command() (*exec.Cmd, error) {
	if s.Path == "" {
		return nil, errors.New("process spec has no executable path")
	}
	// #nosec G204 -- executable is resolved from configuration, not user input
	cmd := exec.Command(s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if s.Env != nil {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd, nil
}

// Spawn launches the child with stdout and stderr redirected to its log file.
// The file descriptor is handed to the child directly so output keeps flowing
// even after the controller exits. The log directory is created if missing.
func Spawn(spec Spec) (*Process, error) {
	cmd, err := spec.command()
	if err != nil {
		return nil, err
	}
	f, err := spec.Log.OpenFile(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("open log for %s: %w", spec.Name, err)
	}
	cmd.Stdout = f
	cmd.Stderr = f
	if err := cmd.Start(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	// The child holds its own copy of the descriptor.
	_ = f.Close()
	return track(spec.Name, cmd), nil
}

// SpawnPiped launches the child with stdout and stderr merged into a single
// pipe so a caller can parse output line by line as it is produced. The caller
// must keep reading the returned reader for the lifetime of the child.
func SpawnPiped(spec Spec) (*Process, io.ReadCloser, error) {
	cmd, err := spec.command()
	if err != nil {
		return nil, nil, err
	}
	if spec.Log.Dir != "" {
		_ = os.MkdirAll(spec.Log.Dir, 0o750)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	// Only the child keeps the write end; EOF on r then means the child (and
	// anything it forked that inherited the pipe) has exited.
	_ = w.Close()
	p := track(spec.Name, cmd)
	return p, r, nil
}

func track(name string, cmd *exec.Cmd) *Process {
	p := &Process{
		name:      name,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	// Reap in the background so an exited child never lingers as a zombie
	// and reads as alive.
	go p.wait()
	return p
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.exited = true
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
	close(p.done)
}

// CloseOnExit registers c to be closed once the child has been reaped.
func (p *Process) CloseOnExit(c io.Closer) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		_ = c.Close()
		return
	}
	p.closers = append(p.closers, c)
	p.mu.Unlock()
}

func (p *Process) Name() string          { return p.name }
func (p *Process) PID() int              { return p.pid }
func (p *Process) StartedAt() time.Time  { return p.startedAt }
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the child has been reaped.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// ExitErr returns the error from Wait once the child has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}
