// Package remoto is the embedding API: load a configuration, build a Session
// and drive it the same way the remoto command does.
package remoto

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/remoto/internal/config"
	"github.com/loykin/remoto/internal/history"
	"github.com/loykin/remoto/internal/history/factory"
	"github.com/loykin/remoto/internal/metrics"
	"github.com/loykin/remoto/internal/orchestrator"
	iapi "github.com/loykin/remoto/internal/server"
	"github.com/loykin/remoto/internal/service"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Summary = orchestrator.Summary

type Status = orchestrator.Status

type StartOptions = orchestrator.StartOptions

type Dependency = service.Resolved

type StartError = service.StartError

type HistorySink = history.Sink

type HistoryEvent = history.Event

// ErrLocked is returned by Start while another session holds the start lock.
var ErrLocked = orchestrator.ErrLocked

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewHistorySink opens a sink for a history DSN ("none" disables recording).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// CloseHistorySink releases the connection behind a sink, if it holds one.
func CloseHistorySink(s HistorySink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Options are the optional collaborators of a Session.
type Options struct {
	Logger  *slog.Logger
	Out     io.Writer // access summary and status output; defaults to os.Stdout
	History HistorySink
}

// Session is a thin facade over the internal orchestrator.
type Session struct{ inner *orchestrator.Orchestrator }

func New(cfg *Config, opts Options) (*Session, error) {
	o, err := orchestrator.New(orchestrator.Options{
		Config:  cfg,
		Logger:  opts.Logger,
		Out:     opts.Out,
		History: opts.History,
	})
	if err != nil {
		return nil, err
	}
	return &Session{inner: o}, nil
}

func (s *Session) Strategy() string { return s.inner.Strategy() }
func (s *Session) CheckDependencies(ctx context.Context) ([]Dependency, error) {
	return s.inner.CheckDependencies(ctx)
}
func (s *Session) Start(ctx context.Context, so StartOptions) (*Summary, error) {
	return s.inner.Start(ctx, so)
}
func (s *Session) Restart(ctx context.Context, so StartOptions) (*Summary, error) {
	return s.inner.Restart(ctx, so)
}
func (s *Session) Stop(ctx context.Context) error { return s.inner.Stop(ctx) }
func (s *Session) Run(ctx context.Context) error  { return s.inner.Run(ctx) }
func (s *Session) Status() Status                 { return s.inner.Status() }
func (s *Session) URLs() map[string]string        { return s.inner.URLs() }
func (s *Session) Password() (string, bool)       { return s.inner.Password() }
func (s *Session) SetPassword(v string) error     { return s.inner.SetPassword(v) }

// NewHTTPServer starts the control API for the session on addr.
func NewHTTPServer(addr, basePath string, s *Session) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterResourceMetrics adds per-service CPU and memory gauges for s.
func RegisterResourceMetrics(r prometheus.Registerer, s *Session) error {
	return r.Register(metrics.NewResourceCollector(s.inner.PIDs))
}
