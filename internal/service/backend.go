package service

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/loykin/remoto/internal/detector"
	"github.com/loykin/remoto/internal/env"
	"github.com/loykin/remoto/internal/process"
)

// Keys the backend reads from its env file and environment.
const (
	EnvStreamURL = "STREAM_URL"
	EnvPassword  = "REMOTE_AI_PASSWORD"
)

// BackendOptions configure the application backend.
type BackendOptions struct {
	Binary     string
	Args       []string // replaces "-m uvicorn <App> --host <Host> --port <Port>"
	App        string
	Host       string
	Port       int
	Dir        string
	EnvFile    string
	HealthPath string // empty trusts the PID alone
	Settle     time.Duration
	// StreamSource names the service whose URL becomes STREAM_URL.
	StreamSource string
	Client       *http.Client
}

// Backend runs the application API. It counts as running only while its PID
// is alive and, when a health path is configured, the health endpoint answers 200.
type Backend struct {
	supervised
	opts BackendOptions
}

func NewBackend(setup Setup, opts BackendOptions) *Backend {
	b := &Backend{
		supervised: newSupervised(setup, "backend", Requirement{
			Binary: opts.Binary,
			Remedy: "install Python 3 and the backend requirements (pip install -r requirements.txt)",
		}),
		opts: opts,
	}
	pidAlive := detector.PIDFileDetector{PIDFile: b.desc.PIDFile}
	if opts.HealthPath != "" {
		b.alive = detector.AllOf{pidAlive, detector.HTTPDetector{URL: b.HealthURL(), Client: opts.Client}}
	} else {
		b.alive = pidAlive
	}
	b.settle = opts.Settle
	b.force = true
	return b
}

// HealthURL is the local health endpoint probed by IsRunning.
func (b *Backend) HealthURL() string {
	return "http://localhost:" + strconv.Itoa(b.opts.Port) + b.opts.HealthPath
}

// Start rewrites the stream URL and password in the backend env file, keeping
// every other entry, then launches the backend with the same values in its
// environment.
func (b *Backend) Start(ctx context.Context, rt *Runtime) error {
	if b.alreadyRunning() {
		return nil
	}
	streamURL, ok := rt.URL(b.opts.StreamSource)
	if !ok {
		return startErr(b.Name(), fmt.Errorf("no stream URL from %s", b.opts.StreamSource), "start the stream tunnel first")
	}
	vars := env.Var{EnvStreamURL: streamURL, EnvPassword: rt.Password}
	if b.opts.EnvFile != "" {
		if err := env.UpdateFile(b.opts.EnvFile, vars); err != nil {
			return startErr(b.Name(), fmt.Errorf("update %s: %w", b.opts.EnvFile, err), "check permissions of "+b.opts.EnvFile)
		}
		b.log.Info("updated env file", "path", b.opts.EnvFile)
	}
	args := b.opts.Args
	if len(args) == 0 {
		args = []string{"-m", "uvicorn", b.opts.App, "--host", b.opts.Host, "--port", strconv.Itoa(b.opts.Port)}
	}
	environ := env.New().Merge(vars)
	return b.launch(ctx, func(string) process.Spec {
		return process.Spec{Args: args, WorkDir: b.opts.Dir, Env: environ}
	})
}

func (b *Backend) Stop(ctx context.Context) error { return b.stop(ctx) }
