package orchestrator

import (
	"context"
	"errors"

	"github.com/loykin/remoto/internal/service"
)

// CheckDependencies locates and probes every executable the plan needs. All
// requirements are checked so one run reports every missing dependency. An
// executable shared by several services is checked once.
func (o *Orchestrator) CheckDependencies(ctx context.Context) ([]service.Resolved, error) {
	return o.check(ctx, o.plan)
}

func (o *Orchestrator) check(ctx context.Context, members []service.ManagedService) ([]service.Resolved, error) {
	var (
		out  []service.Resolved
		errs []error
		seen = map[string]bool{}
	)
	extra := searchPaths(o.cfg)
	for _, m := range members {
		for _, req := range m.Requires() {
			if seen[req.Binary] {
				continue
			}
			seen[req.Binary] = true
			res, err := service.Check(ctx, req, extra...)
			if err != nil {
				o.log.Error("dependency check failed", "service", req.Service, "binary", req.Binary, "err", err)
				errs = append(errs, err)
				continue
			}
			o.log.Debug("dependency ok", "service", req.Service, "path", res.Path, "version", res.Version)
			out = append(out, res)
		}
	}
	return out, errors.Join(errs...)
}
