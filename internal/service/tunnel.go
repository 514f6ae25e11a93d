package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loykin/remoto/internal/capture"
	"github.com/loykin/remoto/internal/detector"
	"github.com/loykin/remoto/internal/metrics"
	"github.com/loykin/remoto/internal/process"
)

// drainGrace bounds how long a failed start waits for the scanner to release
// the log sink after the child was killed.
const drainGrace = 2 * time.Second

// capturing is the shared lifecycle of services whose public URL is parsed
// from their own output: spawn piped, capture, persist, hand off to drain.
type capturing struct {
	setup   Setup
	desc    Descriptor
	log     *slog.Logger
	req     Requirement
	pattern *regexp.Regexp
	timeout time.Duration
	echo    io.Writer
	force   bool

	mu      sync.Mutex
	session *capture.Session
	proc    *process.Process
}

func newCapturing(setup Setup, name string, req Requirement, pattern *regexp.Regexp, timeout time.Duration) capturing {
	req.Service = name
	return capturing{
		setup:   setup,
		desc:    setup.Descriptor(name, true),
		log:     setup.logger(name),
		req:     req,
		pattern: pattern,
		timeout: timeout,
	}
}

func (c *capturing) Name() string            { return c.desc.Name }
func (c *capturing) Descriptor() Descriptor  { return c.desc }
func (c *capturing) Requires() []Requirement { return []Requirement{c.req} }

func (c *capturing) IsRunning() bool {
	return detector.IsAlive(detector.PIDFileDetector{PIDFile: c.desc.PIDFile})
}

// CurrentURL reads the persisted URL. Liveness is not checked.
func (c *capturing) CurrentURL() (string, bool) {
	// #nosec G304 -- url file lives under the data dir
	b, err := os.ReadFile(c.desc.URLFile)
	if err != nil {
		return "", false
	}
	u := strings.TrimSpace(string(b))
	return u, u != ""
}

// State reports the capture state of this invocation's session.
func (c *capturing) State() capture.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return capture.NotStarted
	}
	return c.session.State()
}

// reuse handles a start request while the process is already alive. It
// returns true when the running instance has a URL and can be kept.
func (c *capturing) reuse(ctx context.Context, rt *Runtime) bool {
	if !c.IsRunning() {
		return false
	}
	if u, ok := c.CurrentURL(); ok {
		c.log.Warn("already running; start skipped", "url", u)
		rt.SetURL(c.desc.Name, u)
		return true
	}
	c.log.Warn("running without a recorded URL; restarting")
	_ = c.stop(ctx)
	return false
}

// launch spawns args with merged output, blocks until the URL is captured and
// persists it. The URL file is written only on success.
func (c *capturing) launch(ctx context.Context, args []string, rt *Runtime) (string, error) {
	began := time.Now()
	name := c.desc.Name
	_ = process.RemoveFile(c.desc.URLFile)

	res, err := Check(ctx, c.req, c.setup.SearchPaths...)
	if err != nil {
		return "", err
	}
	sink, err := c.setup.Logs.Writer(name)
	if err != nil {
		return "", startErr(name, err, "check permissions of "+c.setup.Logs.Dir)
	}
	session := capture.NewSession(capture.Options{Pattern: c.pattern, Sink: sink, Echo: c.echo})
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	session.Spawning()
	p, out, err := process.SpawnPiped(process.Spec{Name: name, Path: res.Path, Args: args, Log: c.setup.Logs})
	if err != nil {
		_ = sink.Close()
		return "", startErr(name, err, "check that "+res.Path+" can be executed")
	}
	if err := process.WritePIDFile(c.desc.PIDFile, p.PID()); err != nil {
		_ = process.Terminate(p.PID(), true)
		_ = out.Close()
		_ = sink.Close()
		return "", startErr(name, fmt.Errorf("persist pid: %w", err), "check permissions of "+c.setup.DataDir)
	}
	c.mu.Lock()
	c.proc = p
	c.mu.Unlock()
	c.log.Info("spawned; waiting for public URL", "pid", p.PID(), "timeout", c.timeout)

	url, err := session.Capture(ctx, out, c.timeout)
	if err != nil {
		c.fail(p.PID(), session, out, sink)
		remedy := "inspect " + c.desc.LogPath
		if errors.Is(err, ErrCaptureTimeout) {
			remedy = "check network access or raise tunnel.capture_timeout; " + remedy
		}
		return "", startErr(name, err, remedy)
	}
	metrics.ObserveURLCapture(name, time.Since(began).Seconds())

	// the drain owns the pipe and the sink from here on
	go func() {
		<-session.Drained()
		_ = out.Close()
		_ = sink.Close()
	}()

	if err := process.WriteFileAtomic(c.desc.URLFile, []byte(url), 0o644); err != nil {
		_ = process.Terminate(p.PID(), true)
		_ = process.RemovePIDFile(c.desc.PIDFile)
		return "", startErr(name, fmt.Errorf("persist url: %w", err), "check permissions of "+c.setup.DataDir)
	}
	if !process.IsRunning(p.PID()) {
		_ = process.RemovePIDFile(c.desc.PIDFile)
		_ = process.RemoveFile(c.desc.URLFile)
		return "", startErr(name, fmt.Errorf("%w: exited right after printing its URL", ErrStartVerification), "inspect "+c.desc.LogPath)
	}
	rt.SetURL(name, url)
	metrics.IncStart(name)
	metrics.ObserveStartDuration(name, time.Since(began).Seconds())
	c.log.Info("established", "url", url)
	return url, nil
}

func (c *capturing) fail(pid int, session *capture.Session, out io.Closer, sink io.Closer) {
	if err := process.Terminate(pid, true); err != nil {
		c.log.Warn("kill after failed capture", "pid", pid, "err", err)
	}
	_ = process.RemovePIDFile(c.desc.PIDFile)
	select {
	case <-session.Drained():
	case <-time.After(drainGrace):
	}
	_ = out.Close()
	_ = sink.Close()
}

// stop terminates the process, removes its PID file and always removes the
// URL file so a stale URL never outlives the tunnel.
func (c *capturing) stop(ctx context.Context) error {
	var errs []error
	pid, ok := process.ReadPIDFile(c.desc.PIDFile)
	if ok {
		if err := process.Terminate(pid, c.force); err != nil {
			errs = append(errs, fmt.Errorf("terminate pid %d: %w", pid, err))
		}
		metrics.IncStop(c.desc.Name)
		c.log.Info("stopped", "pid", pid, "force", c.force)
	}
	if err := process.RemovePIDFile(c.desc.PIDFile); err != nil {
		errs = append(errs, err)
	}
	if err := process.RemoveFile(c.desc.URLFile); err != nil {
		errs = append(errs, err)
	}
	c.mu.Lock()
	if c.session != nil {
		c.session.Stop()
	}
	c.mu.Unlock()
	if ok {
		_ = sleep(ctx, c.setup.StopSettle)
	}
	return errors.Join(errs...)
}

// TunnelOptions configure a quick tunnel.
type TunnelOptions struct {
	Name           string // e.g. api_tunnel, stream_tunnel
	Binary         string
	Port           int // local port exposed
	Pattern        *regexp.Regexp
	CaptureTimeout time.Duration
}

// Tunnel exposes a local port on a temporary public URL that is only known
// once the tunnel prints it.
type Tunnel struct {
	capturing
	opts TunnelOptions
}

func NewTunnel(setup Setup, opts TunnelOptions) *Tunnel {
	t := &Tunnel{
		capturing: newCapturing(setup, opts.Name, Requirement{
			Binary: opts.Binary,
			Remedy: "install cloudflared (macOS: brew install cloudflared; others: https://developers.cloudflare.com/cloudflare-one/connections/connect-networks/downloads/)",
		}, opts.Pattern, opts.CaptureTimeout),
		opts: opts,
	}
	t.force = true
	return t
}

// Start blocks until the tunnel's URL is captured, the output ends, or the
// capture timeout passes. An already running tunnel keeps its recorded URL.
func (t *Tunnel) Start(ctx context.Context, rt *Runtime) error {
	if t.reuse(ctx, rt) {
		return nil
	}
	args := []string{"tunnel", "--url", "http://localhost:" + strconv.Itoa(t.opts.Port)}
	_, err := t.launch(ctx, args, rt)
	return err
}

func (t *Tunnel) Stop(ctx context.Context) error { return t.stop(ctx) }
