package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/remoto/internal/service"
)

func main() {
	ctx, stop := interruptContext()
	err := buildRoot(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		diagnose(os.Stderr, err)
		os.Exit(1)
	}
}

// interruptContext is cancelled by Ctrl+C or SIGTERM, so an interrupted start
// rolls back the services it already launched instead of orphaning them.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// buildRoot creates the root command and its subcommands writing to out and errOut.
func buildRoot(out, errOut io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	startFlags := &StartFlags{}
	statusFlags := &StatusFlags{}
	historyFlags := &HistoryFlags{}

	remotoCommand := &command{global: globalFlags, out: out, errOut: errOut}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.SetErr(errOut)
	root.AddCommand(
		createStartCommand(remotoCommand, startFlags),
		createStopCommand(remotoCommand),
		createStatusCommand(remotoCommand, statusFlags),
		createRestartCommand(remotoCommand, startFlags),
		createPasswordCommand(remotoCommand),
		createURLCommand(remotoCommand),
		createHistoryCommand(remotoCommand, historyFlags),
		createDoctorCommand(remotoCommand),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "remoto",
		Short: "Run a screen-sharing session behind temporary public tunnels",
		Long: `Remoto starts a media relay, a screen encoder, two quick tunnels and the
application backend in order, prints where to reach them, and stops them in
reverse order on Ctrl+C. State lives in files, so status and stop work from
any later invocation.

Examples:
  remoto start
  remoto start --no-frontend --skip-dependency-check
  remoto status
  remoto password show
  remoto stop`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional; default <home>/config.toml)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	return root
}

// diagnose prints err and, when one is known, what to do about it.
func diagnose(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
	seen := map[string]bool{}
	for _, se := range startErrors(err) {
		if se.Remedy == "" || seen[se.Remedy] {
			continue
		}
		seen[se.Remedy] = true
		_, _ = fmt.Fprintf(w, "  fix (%s): %s\n", se.Service, se.Remedy)
	}
}

// startErrors collects every StartError in err's tree, joined errors included.
func startErrors(err error) []*service.StartError {
	if err == nil {
		return nil
	}
	var out []*service.StartError
	if se, ok := err.(*service.StartError); ok {
		out = append(out, se)
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			out = append(out, startErrors(e)...)
		}
	case interface{ Unwrap() error }:
		out = append(out, startErrors(u.Unwrap())...)
	}
	return out
}
