package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/remoto/internal/config"
	"github.com/loykin/remoto/internal/history"
	"github.com/loykin/remoto/internal/history/factory"
	"github.com/loykin/remoto/internal/logger"
	"github.com/loykin/remoto/internal/metrics"
	"github.com/loykin/remoto/internal/orchestrator"
	"github.com/loykin/remoto/internal/process_group"
	"github.com/loykin/remoto/internal/server"
	"github.com/loykin/remoto/pkg/client"
)

// command holds the handlers behind every subcommand.
type command struct {
	global *GlobalFlags
	out    io.Writer
	errOut io.Writer
}

// app is everything one invocation needs, built from the loaded config.
type app struct {
	cfg  *config.Config
	log  *slog.Logger
	sink history.Sink
	orch *orchestrator.Orchestrator
}

func (a *app) Close() {
	if c, ok := a.sink.(io.Closer); ok {
		_ = c.Close()
	}
}

func (c *command) setup() (*app, error) {
	cfg, err := config.Load(c.global.ConfigPath)
	if err != nil {
		return nil, err
	}
	if c.global.LogLevel != "" {
		cfg.Log.Level = c.global.LogLevel
	}
	for _, d := range []string{cfg.DataDir, cfg.LogsDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}
	log := logger.New(c.errOut, cfg.Log.Level, cfg.Log.Color)

	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		log.Warn("history disabled", "dsn", cfg.History.DSN, "err", err)
		sink = history.Nop{}
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Config:  cfg,
		Logger:  log,
		Out:     c.out,
		History: sink,
	})
	if err != nil {
		if cl, ok := sink.(io.Closer); ok {
			_ = cl.Close()
		}
		return nil, err
	}
	return &app{cfg: cfg, log: log, sink: sink, orch: orch}, nil
}

func (c *command) start(ctx context.Context, f StartFlags) error {
	a, err := c.setup()
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.orch.Start(ctx, startOptions(f)); err != nil {
		return err
	}
	return c.serve(ctx, a)
}

func (c *command) restart(ctx context.Context, f StartFlags) error {
	a, err := c.setup()
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.orch.Restart(ctx, startOptions(f)); err != nil {
		return err
	}
	return c.serve(ctx, a)
}

func startOptions(f StartFlags) orchestrator.StartOptions {
	return orchestrator.StartOptions{SkipDependencyCheck: f.SkipDependencyCheck, NoFrontend: f.NoFrontend}
}

// serve runs the optional control API next to the blocking run loop.
func (c *command) serve(ctx context.Context, a *app) error {
	var opts []server.Option
	if r, ok := a.sink.(history.Reader); ok {
		opts = append(opts, server.WithHistory(r))
	}
	if a.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		if err := metrics.Register(reg); err != nil {
			return err
		}
		if err := reg.Register(metrics.NewResourceCollector(a.orch.PIDs)); err != nil {
			return err
		}
		opts = append(opts, server.WithMetrics(reg))
	}

	var srv *http.Server
	if a.cfg.API.Listen != "" {
		s, err := server.NewServer(a.cfg.API.Listen, "", a.orch, opts...)
		if err != nil {
			a.log.Warn("control API not started", "listen", a.cfg.API.Listen, "err", err)
		} else {
			srv = s
			a.log.Info("control API listening", "listen", a.cfg.API.Listen)
		}
	}

	runErr := a.orch.Run(ctx)
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
	return runErr
}

func (c *command) stop(ctx context.Context) error {
	a, err := c.setup()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.orch.Stop(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "All services stopped")
	return nil
}

func (c *command) status(ctx context.Context, f StatusFlags) error {
	if f.Remote != "" {
		return c.remoteStatus(ctx, f)
	}
	a, err := c.setup()
	if err != nil {
		return err
	}
	defer a.Close()
	st := a.orch.Status()
	if f.JSON {
		return printJSON(c.out, st)
	}
	st.Print(c.out)
	return nil
}

// remoteStatus asks a running controller instead of reading state files.
func (c *command) remoteStatus(ctx context.Context, f StatusFlags) error {
	rs, err := client.New(client.Config{BaseURL: f.Remote}).Status(ctx)
	if err != nil {
		return fmt.Errorf("query %s: %w", f.Remote, err)
	}
	if f.JSON {
		return printJSON(c.out, rs)
	}
	st := orchestrator.Status{Strategy: rs.Strategy, APIURL: rs.APIURL, StreamURL: rs.StreamURL, Password: rs.Password}
	for _, s := range rs.Services {
		st.Services = append(st.Services, process_group.Status(s))
	}
	st.Print(c.out)
	return nil
}

func (c *command) url() error {
	a, err := c.setup()
	if err != nil {
		return err
	}
	defer a.Close()
	st := a.orch.Status()
	if st.APIURL == "" && st.StreamURL == "" {
		_, _ = fmt.Fprintln(c.out, "No tunnel is running")
		return nil
	}
	if st.APIURL != "" {
		_, _ = fmt.Fprintf(c.out, "API URL: %s\n", st.APIURL)
	}
	if st.StreamURL != "" {
		_, _ = fmt.Fprintf(c.out, "Stream URL: %s\n", st.StreamURL)
	}
	return nil
}

func (c *command) passwordShow() error {
	a, err := c.setup()
	if err != nil {
		return err
	}
	defer a.Close()
	pw, ok := a.orch.Password()
	if !ok {
		return errors.New("no session password yet; run remoto start or remoto password set")
	}
	_, _ = fmt.Fprintln(c.out, pw)
	return nil
}

func (c *command) passwordSet(value string) error {
	if value == "" {
		return errors.New("password must not be empty")
	}
	a, err := c.setup()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.orch.SetPassword(value); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "Session password updated; a running backend uses it after its next start")
	return nil
}

func (c *command) showHistory(ctx context.Context, f HistoryFlags) error {
	a, err := c.setup()
	if err != nil {
		return err
	}
	defer a.Close()
	r, ok := a.sink.(history.Reader)
	if !ok {
		return fmt.Errorf("history sink %q cannot be read back", a.cfg.History.DSN)
	}
	events, err := r.Recent(ctx, history.Limit(f.Limit))
	if err != nil {
		return err
	}
	if f.JSON {
		if events == nil {
			events = []history.Event{}
		}
		return printJSON(c.out, events)
	}
	if len(events) == 0 {
		_, _ = fmt.Fprintln(c.out, "No events recorded")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tSERVICE\tPID\tDETAIL")
	for _, e := range events {
		detail := e.URL
		if e.Error != "" {
			detail = e.Error
		}
		pid := "-"
		if e.PID > 0 {
			pid = fmt.Sprint(e.PID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Type, e.Service, pid, detail)
	}
	return tw.Flush()
}

func (c *command) doctor(ctx context.Context) error {
	a, err := c.setup()
	if err != nil {
		return err
	}
	defer a.Close()
	found, err := a.orch.CheckDependencies(ctx)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, r := range found {
		v := r.Version
		if v == "" {
			v = "-"
		}
		_, _ = fmt.Fprintf(tw, "ok\t%s\t%s\t%s\n", r.Binary, r.Path, v)
	}
	_ = tw.Flush()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "All dependencies found (strategy: %s)\n", a.orch.Strategy())
	return nil
}

func createStartCommand(remotoCommand *command, flags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start every service and block until Ctrl+C",
		Long: `Check dependencies, rotate the session password, start the services in
order and print the access URLs. Any start failure stops what was started.
The command blocks until interrupted, then stops everything in reverse order.

Examples:
  remoto start
  remoto start --no-frontend
  remoto start --skip-dependency-check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return remotoCommand.start(cmd.Context(), *flags)
		},
	}
	addStartFlags(cmd, flags)
	return cmd
}

func createRestartCommand(remotoCommand *command, flags *StartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop every service, pause briefly, then start again",
		RunE: func(cmd *cobra.Command, args []string) error {
			return remotoCommand.restart(cmd.Context(), *flags)
		},
	}
	addStartFlags(cmd, flags)
	return cmd
}

func addStartFlags(cmd *cobra.Command, flags *StartFlags) {
	cmd.Flags().BoolVar(&flags.SkipDependencyCheck, "skip-dependency-check", false, "do not locate and probe executables before starting")
	cmd.Flags().BoolVar(&flags.NoFrontend, "no-frontend", false, "do not open the API tunnel; the backend stays local only")
}

func createStopCommand(remotoCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop every service in reverse start order",
		Long: `Stop every service recorded in the state directory, including ones started
by another invocation. Every service is attempted; failures are reported
together at the end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return remotoCommand.stop(cmd.Context())
		},
	}
}

func createStatusCommand(remotoCommand *command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which services are running and the session values",
		Long: `Show each service with its state and PID, the URLs of running tunnels and
the session password. Status never changes anything.

Examples:
  remoto status
  remoto status --json
  remoto status --remote 127.0.0.1:7070`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return remotoCommand.status(cmd.Context(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print status as JSON")
	cmd.Flags().StringVar(&flags.Remote, "remote", "", "query a running controller's control API (e.g. 127.0.0.1:7070)")
	return cmd
}

func createURLCommand(remotoCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "url",
		Short: "Print the public URLs of the running tunnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return remotoCommand.url()
		},
	}
}

func createPasswordCommand(remotoCommand *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Show or set the session password",
		Long: `Show the current session password, or replace it. A new password is also
written to the backend's env file.

Examples:
  remoto password
  remoto password show
  remoto password set hunter2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return remotoCommand.passwordShow()
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the session password",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return remotoCommand.passwordShow()
			},
		},
		&cobra.Command{
			Use:   "set <password>",
			Short: "Replace the session password",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return remotoCommand.passwordSet(args[0])
			},
		},
	)
	return cmd
}

func createHistoryCommand(remotoCommand *command, flags *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent lifecycle events",
		Long: `List the most recent start, stop and start_failed events from the
configured history store, newest first.

Examples:
  remoto history
  remoto history --limit 50 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return remotoCommand.showHistory(cmd.Context(), *flags)
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", history.DefaultLimit, "number of events to show")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print events as JSON")
	return cmd
}

func createDoctorCommand(remotoCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that every required executable is installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return remotoCommand.doctor(cmd.Context())
		},
	}
}
