package service

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/remoto/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

const versionPrelude = `case "$1" in --version|-version) echo "fake 1.0"; exit 0;; esac
`

// writeExec writes an executable /bin/sh script named name into dir.
func writeExec(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

type fixture struct {
	dir   string
	bin   string
	setup Setup
	rt    *Runtime
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	return &fixture{
		dir: dir,
		bin: bin,
		setup: Setup{
			Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
			Logs:        logger.Config{Dir: filepath.Join(dir, "logs")},
			DataDir:     filepath.Join(dir, "data"),
			SearchPaths: []string{bin},
		},
		rt: NewRuntime("test-session", "s3cret"),
	}
}

func waitUntil(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fn()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
