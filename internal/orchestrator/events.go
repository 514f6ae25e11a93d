package orchestrator

import (
	"context"
	"time"

	"github.com/loykin/remoto/internal/history"
	"github.com/loykin/remoto/internal/process"
	"github.com/loykin/remoto/internal/process_group"
	"github.com/loykin/remoto/internal/service"
)

func (o *Orchestrator) hooks() process_group.Hooks {
	return process_group.Hooks{
		Started: func(svc service.ManagedService, took time.Duration) {
			e := o.event(history.EventStart, svc)
			if up, ok := svc.(service.URLProvider); ok {
				e.URL, _ = up.CurrentURL()
			}
			o.log.Info("service started", "service", svc.Name(), "pid", e.PID, "took", took.Round(time.Millisecond))
			o.record(e)
		},
		Failed: func(svc service.ManagedService, err error) {
			e := o.event(history.EventStartFailed, svc)
			e.Error = err.Error()
			o.log.Error("service failed to start", "service", svc.Name(), "err", err)
			o.record(e)
		},
		Stopped: func(svc service.ManagedService, pid int, err error) {
			if pid == 0 && err == nil {
				return
			}
			e := o.event(history.EventStop, svc)
			e.PID = pid
			if err != nil {
				e.Error = err.Error()
				o.log.Warn("stop failed", "service", svc.Name(), "err", err)
			}
			o.record(e)
		},
	}
}

func (o *Orchestrator) event(t history.EventType, svc service.ManagedService) history.Event {
	e := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Session:    o.currentSession(),
		Service:    svc.Name(),
	}
	if pid, ok := process.ReadPIDFile(svc.Descriptor().PIDFile); ok {
		e.PID = pid
	}
	return e
}

// record never fails the lifecycle operation; a broken history sink only warns.
func (o *Orchestrator) record(e history.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := o.hist.Send(ctx, e); err != nil {
		o.log.Warn("history send failed", "event", e.Type, "service", e.Service, "err", err)
	}
}
