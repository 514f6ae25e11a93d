package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/remoto/internal/detector"
	"github.com/loykin/remoto/internal/metrics"
	"github.com/loykin/remoto/internal/process"
)

// supervised is the shared lifecycle of services whose output goes straight
// to a log file: resolve, probe, spawn, persist the PID, settle, verify.
type supervised struct {
	setup  Setup
	desc   Descriptor
	log    *slog.Logger
	req    Requirement
	settle time.Duration
	force  bool              // stop with an immediate kill
	alive  detector.Detector // IsRunning
	verify detector.Detector // post-settle start check

	mu   sync.Mutex
	proc *process.Process // only set in the invocation that started it
}

func newSupervised(setup Setup, name string, req Requirement) supervised {
	d := setup.Descriptor(name, false)
	req.Service = name
	return supervised{
		setup: setup,
		desc:  d,
		log:   setup.logger(name),
		req:   req,
		alive: detector.PIDFileDetector{PIDFile: d.PIDFile},
	}
}

func (s *supervised) Name() string            { return s.desc.Name }
func (s *supervised) Descriptor() Descriptor  { return s.desc }
func (s *supervised) Requires() []Requirement { return []Requirement{s.req} }
func (s *supervised) IsRunning() bool         { return detector.IsAlive(s.alive) }

// launch starts the child built by build and blocks through the settle window.
// On verification failure the child is killed and its PID file removed.
func (s *supervised) launch(ctx context.Context, build func(path string) process.Spec) error {
	began := time.Now()
	res, err := Check(ctx, s.req, s.setup.SearchPaths...)
	if err != nil {
		return err
	}
	spec := build(res.Path)
	spec.Name = s.desc.Name
	spec.Path = res.Path
	spec.Log = s.setup.Logs

	p, err := process.Spawn(spec)
	if err != nil {
		return startErr(s.desc.Name, err, "check that "+res.Path+" can be executed")
	}
	if err := process.WritePIDFile(s.desc.PIDFile, p.PID()); err != nil {
		_ = process.Terminate(p.PID(), true)
		return startErr(s.desc.Name, fmt.Errorf("persist pid: %w", err), "check permissions of "+s.setup.DataDir)
	}
	s.mu.Lock()
	s.proc = p
	s.mu.Unlock()
	s.log.Info("spawned", "pid", p.PID(), "path", res.Path, "log", s.desc.LogPath)

	if err := sleep(ctx, s.settle); err != nil {
		s.abort(p.PID())
		return err
	}
	verify := s.verify
	if verify == nil {
		verify = s.alive
	}
	if !detector.IsAlive(verify) {
		s.abort(p.PID())
		err := fmt.Errorf("%w: %s not satisfied after %s", ErrStartVerification, verify.Describe(), s.settle)
		return startErr(s.desc.Name, err, "inspect "+s.desc.LogPath)
	}
	metrics.IncStart(s.desc.Name)
	metrics.ObserveStartDuration(s.desc.Name, time.Since(began).Seconds())
	return nil
}

func (s *supervised) abort(pid int) {
	if err := process.Terminate(pid, true); err != nil {
		s.log.Warn("kill after failed start", "pid", pid, "err", err)
	}
	_ = process.RemovePIDFile(s.desc.PIDFile)
}

// stop terminates the recorded PID and removes the PID file. Without a PID
// file there is nothing to do.
func (s *supervised) stop(ctx context.Context) error {
	pid, ok := process.ReadPIDFile(s.desc.PIDFile)
	if !ok {
		return process.RemovePIDFile(s.desc.PIDFile)
	}
	var errs []error
	if err := process.Terminate(pid, s.force); err != nil {
		errs = append(errs, fmt.Errorf("terminate pid %d: %w", pid, err))
	}
	if err := process.RemovePIDFile(s.desc.PIDFile); err != nil {
		errs = append(errs, err)
	}
	metrics.IncStop(s.desc.Name)
	s.log.Info("stopped", "pid", pid, "force", s.force)
	_ = sleep(ctx, s.setup.StopSettle)
	return errors.Join(errs...)
}

// alreadyRunning logs the no-op start.
func (s *supervised) alreadyRunning() bool {
	if !s.IsRunning() {
		return false
	}
	s.log.Warn("already running; start skipped")
	return true
}
