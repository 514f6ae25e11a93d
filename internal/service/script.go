package service

import (
	"context"
	"io"
	"regexp"
	"time"
)

// ScriptOptions configure the delegated media stack.
type ScriptOptions struct {
	Path           string
	Args           []string
	Pattern        *regexp.Regexp
	CaptureTimeout time.Duration
	// Echo receives the script's output after the URL is captured.
	Echo io.Writer
}

// Script runs an external startup script that brings up the relay, the
// encoder and the stream tunnel on its own. The stream URL is captured from
// the script's output exactly as for a Tunnel, and the rest of its output is
// relayed to Echo. Stopping it signals the whole process group.
type Script struct {
	capturing
	opts ScriptOptions
}

// ScriptName is the service name of the delegated stack.
const ScriptName = "media_stack"

func NewScript(setup Setup, opts ScriptOptions) *Script {
	s := &Script{
		capturing: newCapturing(setup, ScriptName, Requirement{
			Binary:  opts.Path,
			Remedy:  "set stack.script to an executable startup script or use stack.strategy = \"individual\"",
			NoProbe: true,
		}, opts.Pattern, opts.CaptureTimeout),
		opts: opts,
	}
	s.echo = opts.Echo
	return s
}

func (s *Script) Start(ctx context.Context, rt *Runtime) error {
	if s.reuse(ctx, rt) {
		return nil
	}
	_, err := s.launch(ctx, s.opts.Args, rt)
	return err
}

// Stop terminates the script gracefully; its children share its group.
func (s *Script) Stop(ctx context.Context) error { return s.stop(ctx) }
