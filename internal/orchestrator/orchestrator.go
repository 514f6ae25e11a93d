// Package orchestrator owns the managed services of one controller
// invocation and sequences them: dependency check, secret rotation, ordered
// start with rollback, reverse-order stop, read-only status and the blocking
// run loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/loykin/remoto/internal/config"
	"github.com/loykin/remoto/internal/env"
	"github.com/loykin/remoto/internal/history"
	"github.com/loykin/remoto/internal/process"
	"github.com/loykin/remoto/internal/process_group"
	"github.com/loykin/remoto/internal/secret"
	"github.com/loykin/remoto/internal/service"
)

// Service names besides the ones the service package fixes.
const (
	StreamTunnel = "stream_tunnel"
	APITunnel    = "api_tunnel"
)

const (
	// RestartPause separates the stop and start halves of Restart.
	RestartPause = 2 * time.Second

	// WatchInterval is how often Run checks whether the services were
	// stopped by another invocation.
	WatchInterval = 5 * time.Second

	// RestartLockWait bounds how long Restart waits for a running start
	// invocation to notice the stop and release the lock.
	RestartLockWait = WatchInterval + 3*time.Second

	lockPoll       = 100 * time.Millisecond
	historyTimeout = 5 * time.Second
)

// ErrLocked means another invocation holds the start lock.
var ErrLocked = errors.New("another remoto start is already running")

// Options configure an Orchestrator.
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// Out receives the access summary, status tables and the delegated
	// script's console output. Defaults to os.Stdout.
	Out     io.Writer
	History history.Sink
	// GOOS selects the platform strategy; defaults to runtime.GOOS.
	GOOS string
	// Services replaces the plan derived from Config, in start order.
	Services []service.ManagedService
}

// StartOptions mirror the start command's flags.
type StartOptions struct {
	SkipDependencyCheck bool
	// NoFrontend skips the API tunnel; the backend stays local only.
	NoFrontend bool
}

// Orchestrator is constructed once per controller invocation and is the only
// owner of its services and of the session state they share.
type Orchestrator struct {
	cfg      *config.Config
	log      *slog.Logger
	out      io.Writer
	hist     history.Sink
	secrets  secret.Store
	plan     []service.ManagedService
	strategy string
	source   string // service whose URL is the stream URL

	restartPause time.Duration
	watch        time.Duration
	lockWait     time.Duration

	mu      sync.Mutex
	lock    *flock.Flock
	session string
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, errors.New("orchestrator: nil config")
	}
	o := &Orchestrator{
		cfg:          opts.Config,
		log:          opts.Logger,
		out:          opts.Out,
		hist:         opts.History,
		secrets:      secret.Store{Path: opts.Config.SecretFile()},
		restartPause: RestartPause,
		lockWait:     RestartLockWait,
		watch:        WatchInterval,
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	if o.hist == nil {
		o.hist = history.Nop{}
	}
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	o.strategy = Strategy(o.cfg, goos)

	if len(opts.Services) > 0 {
		o.plan = opts.Services
		o.source = StreamTunnel
		if o.strategy == config.StrategyScript {
			o.source = service.ScriptName
		}
		return o, nil
	}
	plan, source, err := buildPlan(o.cfg, o.strategy, o.setup(), o.out)
	if err != nil {
		return nil, err
	}
	o.plan, o.source = plan, source
	return o, nil
}

// Strategy resolves the configured stack strategy for goos. Auto delegates to
// the startup script on darwin when one is configured.
func Strategy(cfg *config.Config, goos string) string {
	switch cfg.Stack.Strategy {
	case config.StrategyScript:
		return config.StrategyScript
	case config.StrategyAuto:
		if goos == "darwin" && cfg.Stack.Script != "" {
			return config.StrategyScript
		}
	}
	return config.StrategyIndividual
}

func (o *Orchestrator) setup() service.Setup {
	return service.Setup{
		Logger:      o.log,
		Logs:        o.cfg.Logger(),
		DataDir:     o.cfg.DataDir,
		SearchPaths: searchPaths(o.cfg),
		StopSettle:  o.cfg.StopSettle,
	}
}

// searchPaths are the extra executable directories: configured ones first,
// then <home>/bin.
func searchPaths(cfg *config.Config) []string {
	out := append([]string{}, cfg.SearchPaths...)
	return append(out, filepath.Join(cfg.Home, "bin"))
}

func buildPlan(cfg *config.Config, strategy string, setup service.Setup, out io.Writer) ([]service.ManagedService, string, error) {
	pattern, err := regexp.Compile(cfg.Tunnel.Pattern)
	if err != nil {
		return nil, "", fmt.Errorf("tunnel.pattern: %w", err)
	}

	var plan []service.ManagedService
	source := StreamTunnel
	if strategy == config.StrategyScript {
		source = service.ScriptName
		plan = append(plan, service.NewScript(setup, service.ScriptOptions{
			Path:           cfg.Stack.Script,
			Pattern:        pattern,
			CaptureTimeout: cfg.Tunnel.CaptureTimeout,
			Echo:           out,
		}))
	} else {
		plan = append(plan,
			service.NewRelay(setup, service.RelayOptions{
				Binary:   cfg.Relay.Binary,
				Config:   cfg.Relay.Config,
				Home:     cfg.Home,
				RTSPPort: cfg.Relay.RTSPPort,
				HLSPort:  cfg.Relay.HLSPort,
				Path:     cfg.Relay.Path,
				Settle:   cfg.Relay.Settle,
			}),
			service.NewEncoder(setup, service.EncoderOptions{
				Binary:  cfg.Encoder.Binary,
				Args:    cfg.Encoder.Args,
				Publish: service.RTSPPublishURL(cfg.Relay.RTSPPort, cfg.Relay.Path),
				Settle:  cfg.Encoder.Settle,
			}),
			service.NewTunnel(setup, service.TunnelOptions{
				Name:           StreamTunnel,
				Binary:         cfg.Tunnel.Binary,
				Port:           cfg.Relay.HLSPort,
				Pattern:        pattern,
				CaptureTimeout: cfg.Tunnel.CaptureTimeout,
			}),
		)
	}
	plan = append(plan,
		service.NewTunnel(setup, service.TunnelOptions{
			Name:           APITunnel,
			Binary:         cfg.Tunnel.Binary,
			Port:           cfg.Backend.Port,
			Pattern:        pattern,
			CaptureTimeout: cfg.Tunnel.CaptureTimeout,
		}),
		service.NewBackend(setup, service.BackendOptions{
			Binary:       cfg.Backend.Binary,
			Args:         cfg.Backend.Args,
			App:          cfg.Backend.App,
			Host:         cfg.Backend.Host,
			Port:         cfg.Backend.Port,
			Dir:          cfg.Backend.Dir,
			EnvFile:      cfg.Backend.EnvFile,
			HealthPath:   cfg.Backend.HealthPath,
			Settle:       cfg.Backend.Settle,
			StreamSource: source,
		}),
	)
	return plan, source, nil
}

// Strategy reports the resolved stack strategy.
func (o *Orchestrator) Strategy() string { return o.strategy }

// Services returns the full plan in start order.
func (o *Orchestrator) Services() []service.ManagedService {
	return append([]service.ManagedService(nil), o.plan...)
}

func (o *Orchestrator) startPlan(so StartOptions) []service.ManagedService {
	if !so.NoFrontend {
		return o.Services()
	}
	out := make([]service.ManagedService, 0, len(o.plan))
	for _, m := range o.plan {
		if m.Name() != APITunnel {
			out = append(out, m)
		}
	}
	return out
}

func (o *Orchestrator) group(members []service.ManagedService) *process_group.Group {
	return process_group.New("remoto", members, o.hooks())
}

// Start brings every service up in dependency order and prints the access
// summary. Any failure stops what was started and releases the start lock.
// On success the lock stays held until Stop.
func (o *Orchestrator) Start(ctx context.Context, so StartOptions) (*Summary, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	members := o.startPlan(so)
	if !so.SkipDependencyCheck {
		if _, err := o.check(ctx, members); err != nil {
			o.release()
			return nil, err
		}
	}

	password, err := o.secrets.Rotate(o.cfg.Password)
	if err != nil {
		o.release()
		return nil, err
	}
	session := uuid.NewString()
	o.mu.Lock()
	o.session = session
	o.mu.Unlock()
	o.log.Info("starting services", "session", session, "strategy", o.strategy, "count", len(members))

	rt := service.NewRuntime(session, password)
	if err := o.group(members).Start(ctx, rt); err != nil {
		o.release()
		return nil, err
	}

	sum := o.summarize(rt, password)
	sum.Print(o.out)
	return sum, nil
}

// Stop stops every service in reverse start order. It is best-effort: every
// service is attempted and all failures are returned joined.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.log.Info("stopping services")
	err := o.group(o.plan).Stop(ctx)
	o.release()
	if err != nil {
		o.log.Warn("stop finished with errors", "err", err)
	}
	return err
}

// Restart is Stop, a short pause, then Start. When another invocation owns the
// session, its lock is awaited until that invocation sees the stop and exits.
func (o *Orchestrator) Restart(ctx context.Context, so StartOptions) (*Summary, error) {
	if err := o.Stop(ctx); err != nil {
		o.log.Warn("continuing restart after stop errors", "err", err)
	}
	t := time.NewTimer(o.restartPause)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := o.lockWithin(ctx, o.lockWait); err != nil {
		return nil, err
	}
	return o.Start(ctx, so)
}

// Run blocks until ctx is done or an interrupt arrives, then stops every
// service. When all services have been stopped by another invocation it
// returns without stopping anything.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(o.out, "Press Ctrl+C to stop all services...")
	g := o.group(o.plan)
	ticker := time.NewTicker(o.watch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(o.out)
			// shutdown must finish even though ctx is what ended the wait
			return o.Stop(context.WithoutCancel(ctx))
		case <-ticker.C:
			if !g.AnyRunning() {
				o.log.Warn("all services stopped externally; exiting")
				o.release()
				return nil
			}
		}
	}
}

// Password returns the current session secret, if one has been written.
func (o *Orchestrator) Password() (string, bool) { return o.secrets.Load() }

// SetPassword replaces the session secret and the backend's copy of it.
// A running backend picks the new value up on its next start.
func (o *Orchestrator) SetPassword(value string) error {
	if err := o.secrets.Save(value); err != nil {
		return err
	}
	if o.cfg.Backend.EnvFile == "" {
		return nil
	}
	v, _ := o.secrets.Load()
	return env.UpdateFile(o.cfg.Backend.EnvFile, env.Var{service.EnvPassword: v})
}

// PIDs maps each service with a PID file to its recorded PID.
func (o *Orchestrator) PIDs() map[string]int {
	out := map[string]int{}
	for _, m := range o.plan {
		if pid, ok := process.ReadPIDFile(m.Descriptor().PIDFile); ok {
			out[m.Name()] = pid
		}
	}
	return out
}

func (o *Orchestrator) acquire() error { return o.lockWithin(context.Background(), 0) }

// lockWithin takes the start lock, polling for up to wait. A zero wait tries
// once. Holding the lock already is not an error.
func (o *Orchestrator) lockWithin(ctx context.Context, wait time.Duration) error {
	o.mu.Lock()
	held := o.lock != nil
	o.mu.Unlock()
	if held {
		return nil
	}
	path := o.cfg.LockFile()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	l := flock.New(path)
	var (
		locked bool
		err    error
	)
	if wait <= 0 {
		locked, err = l.TryLock()
	} else {
		o.log.Info("waiting for the running session to release its lock", "lock", path, "timeout", wait)
		wctx, cancel := context.WithTimeout(ctx, wait)
		locked, err = l.TryLockContext(wctx, lockPoll)
		cancel()
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock held: %s)", ErrLocked, path)
	}
	o.mu.Lock()
	o.lock = l
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lock == nil {
		return
	}
	_ = o.lock.Unlock()
	o.lock = nil
}

func (o *Orchestrator) currentSession() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}
