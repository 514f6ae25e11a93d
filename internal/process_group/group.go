package process_group

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/remoto/internal/metrics"
	"github.com/loykin/remoto/internal/process"
	"github.com/loykin/remoto/internal/service"
)

// Hooks observe lifecycle transitions. Any of them may be nil.
type Hooks struct {
	Started func(svc service.ManagedService, took time.Duration)
	Failed  func(svc service.ManagedService, err error)
	// Stopped receives the PID recorded before the stop, 0 when none was.
	Stopped func(svc service.ManagedService, pid int, err error)
}

// Group starts an ordered set of services and stops them in reverse.
// Name is a logical group identifier used for diagnostics only.
type Group struct {
	Name    string
	members []service.ManagedService
	hooks   Hooks
}

// Status is a point-in-time view of one member.
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	URL     string `json:"url,omitempty"`
	LogPath string `json:"log_path"`
}

func New(name string, members []service.ManagedService, hooks Hooks) *Group {
	return &Group{Name: name, members: members, hooks: hooks}
}

// Members returns the services in start order.
func (g *Group) Members() []service.ManagedService {
	return append([]service.ManagedService(nil), g.members...)
}

// Lookup returns the member called name.
func (g *Group) Lookup(name string) (service.ManagedService, bool) {
	for _, m := range g.members {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Start starts all members in order, sharing rt. If any start fails, it stops
// the failed member and every member already started in this call, in reverse
// order, and returns the start error.
func (g *Group) Start(ctx context.Context, rt *service.Runtime) error {
	started := make([]service.ManagedService, 0, len(g.members))
	for _, m := range g.members {
		began := time.Now()
		if err := m.Start(ctx, rt); err != nil {
			metrics.IncStartFailure(m.Name(), service.Reason(err))
			if g.hooks.Failed != nil {
				g.hooks.Failed(m, err)
			}
			// rollback must complete even when ctx was what failed the start
			rollback := context.WithoutCancel(ctx)
			_ = g.stopEach(rollback, append(started, m))
			return fmt.Errorf("group %s start failed on %s: %w", g.Name, m.Name(), err)
		}
		metrics.SetRunning(m.Name(), true)
		if g.hooks.Started != nil {
			g.hooks.Started(m, time.Since(began))
		}
		started = append(started, m)
	}
	return nil
}

// Stop stops all members regardless of their state, last member first,
// best-effort. Every failure is returned joined as *service.StopError.
func (g *Group) Stop(ctx context.Context) error {
	return g.stopEach(ctx, g.members)
}

func (g *Group) stopEach(ctx context.Context, ms []service.ManagedService) error {
	var errs []error
	for i := len(ms) - 1; i >= 0; i-- {
		m := ms[i]
		pid, _ := process.ReadPIDFile(m.Descriptor().PIDFile)
		err := m.Stop(ctx)
		if err != nil {
			err = &service.StopError{Service: m.Name(), Err: err}
			errs = append(errs, err)
		}
		metrics.SetRunning(m.Name(), false)
		if g.hooks.Stopped != nil {
			g.hooks.Stopped(m, pid, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports every member in start order. It only reads state files and
// probes liveness. A URL is reported only while its service is running.
func (g *Group) Status() []Status {
	out := make([]Status, 0, len(g.members))
	for _, m := range g.members {
		d := m.Descriptor()
		st := Status{Name: m.Name(), Running: m.IsRunning(), LogPath: d.LogPath}
		if pid, ok := process.ReadPIDFile(d.PIDFile); ok {
			st.PID = pid
		}
		if up, ok := m.(service.URLProvider); ok && st.Running {
			if u, ok := up.CurrentURL(); ok {
				st.URL = u
			}
		}
		out = append(out, st)
	}
	return out
}

// AnyRunning reports whether at least one member is alive.
func (g *Group) AnyRunning() bool {
	for _, m := range g.members {
		if m.IsRunning() {
			return true
		}
	}
	return false
}
