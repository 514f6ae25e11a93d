// Package service implements the managed services the orchestrator runs:
// the media relay, the screen encoder, the quick tunnels, the application
// backend and the optional startup script that replaces the first three.
package service

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/remoto/internal/logger"
)

// ManagedService is the lifecycle contract every service satisfies.
type ManagedService interface {
	Name() string
	Descriptor() Descriptor
	// Requires lists the executables Start needs.
	Requires() []Requirement
	// Start is a no-op when the service is already running.
	Start(ctx context.Context, rt *Runtime) error
	// Stop is idempotent; stopping a stopped service is not an error.
	Stop(ctx context.Context) error
	IsRunning() bool
}

// URLProvider is implemented by services that publish a public URL.
type URLProvider interface {
	// CurrentURL returns the persisted URL without checking liveness.
	CurrentURL() (string, bool)
}

// Descriptor names the files a service owns. It never changes after
// construction and no two services share one.
type Descriptor struct {
	Name    string
	LogPath string
	PIDFile string
	URLFile string // empty for services without a URL
}

// Runtime carries values produced during one orchestrated start to the
// services started after them.
type Runtime struct {
	Session  string
	Password string

	mu   sync.Mutex
	urls map[string]string
}

func NewRuntime(session, password string) *Runtime {
	return &Runtime{Session: session, Password: password, urls: map[string]string{}}
}

// SetURL records the URL published by service.
func (r *Runtime) SetURL(service, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.urls == nil {
		r.urls = map[string]string{}
	}
	r.urls[service] = url
}

// URL returns the URL published by service during this run.
func (r *Runtime) URL(service string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.urls[service]
	return u, ok
}

// Setup is what every service needs from its surroundings.
type Setup struct {
	Logger      *slog.Logger
	Logs        logger.Config
	DataDir     string
	SearchPaths []string
	// StopSettle is waited after a stop that actually terminated something.
	StopSettle time.Duration
}

// Descriptor derives the state file layout for name.
func (s Setup) Descriptor(name string, withURL bool) Descriptor {
	d := Descriptor{
		Name:    name,
		LogPath: s.Logs.Path(name),
		PIDFile: filepath.Join(s.DataDir, name+".pid"),
	}
	if withURL {
		d.URLFile = filepath.Join(s.DataDir, name+"_url.txt")
	}
	return d
}

func (s Setup) logger(name string) *slog.Logger {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("service", name)
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
