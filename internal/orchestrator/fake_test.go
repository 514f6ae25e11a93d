package orchestrator

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/remoto/internal/config"
	"github.com/loykin/remoto/internal/history"
	"github.com/loykin/remoto/internal/process"
	"github.com/loykin/remoto/internal/service"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fakeService stands in for a real service: it records calls, writes a PID
// file and publishes a URL when configured.
type fakeService struct {
	name     string
	dir      string
	rec      *recorder
	url      string
	startErr error
	reqs     []service.Requirement
	// blocking makes Start wait for ctx, like a tunnel waiting for its URL.
	blocking chan struct{}

	mu       sync.Mutex
	running  bool
	password string
	stream   string
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Descriptor() service.Descriptor {
	return service.Descriptor{
		Name:    f.name,
		LogPath: filepath.Join(f.dir, f.name+".log"),
		PIDFile: filepath.Join(f.dir, f.name+".pid"),
	}
}

func (f *fakeService) Requires() []service.Requirement { return f.reqs }

func (f *fakeService) Start(ctx context.Context, rt *service.Runtime) error {
	f.rec.add("start:" + f.name)
	if f.blocking != nil {
		close(f.blocking)
		<-ctx.Done()
		return ctx.Err()
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.password = rt.Password
	f.stream, _ = rt.URL(StreamTunnel)
	f.mu.Unlock()
	if f.url != "" {
		rt.SetURL(f.name, f.url)
	}
	return process.WritePIDFile(f.Descriptor().PIDFile, 5000+len(f.name))
}

func (f *fakeService) Stop(context.Context) error {
	f.rec.add("stop:" + f.name)
	f.setRunning(false)
	return process.RemovePIDFile(f.Descriptor().PIDFile)
}

func (f *fakeService) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeService) setRunning(v bool) {
	f.mu.Lock()
	f.running = v
	f.mu.Unlock()
}

func (f *fakeService) seen() (password, stream string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.password, f.stream
}

func (f *fakeService) CurrentURL() (string, bool) { return f.url, f.url != "" }

type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *memorySink) list() []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Event(nil), m.events...)
}

type fixture struct {
	cfg   *config.Config
	rec   *recorder
	svcs  map[string]*fakeService
	order []string
	hist  *memorySink
	out   *bytes.Buffer
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	return &config.Config{
		Home:    home,
		DataDir: filepath.Join(home, "data"),
		LogsDir: filepath.Join(home, "logs"),
		Relay:   config.RelayConfig{Path: "screen", RTSPPort: 8554, HLSPort: 8888},
		Backend: config.BackendConfig{Port: 8000, EnvFile: filepath.Join(home, "server", ".env")},
		Stack:   config.StackConfig{Strategy: config.StrategyIndividual},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig(t)
	f := &fixture{
		cfg:   cfg,
		rec:   &recorder{},
		svcs:  map[string]*fakeService{},
		order: []string{"mediamtx", "ffmpeg", StreamTunnel, APITunnel, "backend"},
		hist:  &memorySink{},
		out:   &bytes.Buffer{},
	}
	for _, n := range f.order {
		f.svcs[n] = &fakeService{name: n, dir: cfg.DataDir, rec: f.rec}
	}
	f.svcs[StreamTunnel].url = "https://stream-abc.trycloudflare.com"
	f.svcs[APITunnel].url = "https://api-xyz.trycloudflare.com"
	return f
}

func (f *fixture) services() []service.ManagedService {
	out := make([]service.ManagedService, 0, len(f.order))
	for _, n := range f.order {
		out = append(out, f.svcs[n])
	}
	return out
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Config:   f.cfg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Out:      f.out,
		History:  f.hist,
		Services: f.services(),
	})
	require.NoError(t, err)
	return o
}
