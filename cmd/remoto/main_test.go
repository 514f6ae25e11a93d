package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/remoto/internal/env"
	"github.com/loykin/remoto/internal/orchestrator"
	"github.com/loykin/remoto/internal/process_group"
	"github.com/loykin/remoto/internal/server"
	"github.com/loykin/remoto/internal/service"
)

// isolate points every state path at a temp dir and returns it.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("REMOTO_HOME", home)
	t.Setenv("REMOTO_BACKEND_DIR", home)
	t.Setenv("REMOTO_BACKEND_ENV_FILE", filepath.Join(home, "backend.env"))
	t.Setenv("REMOTO_LOG_COLOR", "false")
	t.Setenv("REMOTO_PASSWORD", "")
	t.Setenv("REMOTE_AI_PASSWORD", "")
	t.Setenv("REMOTO_STACK_STRATEGY", "individual")
	t.Setenv("REMOTO_HISTORY_DSN", "")
	// ports nothing listens on, so status cannot see an unrelated server
	t.Setenv("REMOTO_RELAY_HLS_PORT", "1")
	t.Setenv("REMOTO_BACKEND_PORT", "2")
	return home
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := buildRoot(&out, &errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestHelpListsCommands(t *testing.T) {
	out, _, err := run(t, "--help")
	require.NoError(t, err)
	for _, c := range []string{"start", "stop", "status", "restart", "password", "url", "history", "doctor"} {
		assert.Contains(t, out, c)
	}
}

func TestStartFlagsRegistered(t *testing.T) {
	root := buildRoot(&bytes.Buffer{}, &bytes.Buffer{})
	start, _, err := root.Find([]string{"start"})
	require.NoError(t, err)
	assert.NotNil(t, start.Flags().Lookup("no-frontend"))
	assert.NotNil(t, start.Flags().Lookup("skip-dependency-check"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestPasswordSetAndShow(t *testing.T) {
	home := isolate(t)

	_, _, err := run(t, "password", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session password")

	require.NoError(t, os.WriteFile(filepath.Join(home, "backend.env"), []byte("OTHER=1\n"), 0o600))
	out, _, err := run(t, "password", "set", "hunter2")
	require.NoError(t, err)
	assert.Contains(t, out, "updated")

	out, _, err = run(t, "password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", strings.TrimSpace(out))

	vars, err := env.ReadFile(filepath.Join(home, "backend.env"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", vars[service.EnvPassword])
	assert.Equal(t, "1", vars["OTHER"])

	_, _, err = run(t, "password", "set")
	assert.Error(t, err)
}

func TestStatusOnEmptyState(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "REMOTO STATUS")
	assert.Contains(t, out, "STOPPED")
	assert.NotContains(t, out, "RUNNING")

	out, _, err = run(t, "status", "--json")
	require.NoError(t, err)
	var st orchestrator.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "individual", st.Strategy)
	names := make([]string, 0, len(st.Services))
	for _, s := range st.Services {
		names = append(names, s.Name)
		assert.False(t, s.Running)
	}
	assert.Equal(t, []string{"mediamtx", "ffmpeg", "stream_tunnel", "api_tunnel", "backend"}, names)
	assert.Empty(t, st.APIURL)
}

func TestStatusIgnoresStaleURLFiles(t *testing.T) {
	home := isolate(t)
	data := filepath.Join(home, "data")
	require.NoError(t, os.MkdirAll(data, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(data, "api_tunnel_url.txt"), []byte("https://old.trycloudflare.com"), 0o600))

	out, _, err := run(t, "url")
	require.NoError(t, err)
	assert.Contains(t, out, "No tunnel is running")
	assert.NotContains(t, out, "old.trycloudflare.com")
}

func TestStopOnEmptyState(t *testing.T) {
	isolate(t)
	out, _, err := run(t, "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "All services stopped")
}

func TestHistoryEmpty(t *testing.T) {
	home := isolate(t)

	out, _, err := run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No events recorded")
	assert.FileExists(t, filepath.Join(home, "data", "history.db"))

	out, _, err = run(t, "history", "--json", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestHistoryDisabled(t *testing.T) {
	isolate(t)
	t.Setenv("REMOTO_HISTORY_DSN", "none")

	out, _, err := run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No events recorded")
}

func TestDoctorReportsEveryMissingBinary(t *testing.T) {
	isolate(t)
	t.Setenv("REMOTO_RELAY_BINARY", "remoto-missing-relay")
	t.Setenv("REMOTO_ENCODER_BINARY", "remoto-missing-encoder")
	t.Setenv("REMOTO_TUNNEL_BINARY", "remoto-missing-tunnel")
	t.Setenv("REMOTO_BACKEND_BINARY", "remoto-missing-backend")

	_, _, err := run(t, "doctor")
	require.Error(t, err)
	assert.Len(t, startErrors(err), 4)

	var buf bytes.Buffer
	diagnose(&buf, err)
	out := buf.String()
	assert.Contains(t, out, "fix (mediamtx): install MediaMTX")
	assert.Contains(t, out, "fix (ffmpeg): install FFmpeg")
	assert.Contains(t, out, "install cloudflared")
	assert.Contains(t, out, "fix (backend): install Python 3")
}

func TestInvalidConfigFails(t *testing.T) {
	isolate(t)
	_, _, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "status")
	assert.Error(t, err)
}

func TestConfigFileIsRead(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "remoto.toml")
	require.NoError(t, os.WriteFile(path, []byte("[stack]\nstrategy = \"script\"\nscript = \"/opt/start.sh\"\n"), 0o600))
	t.Setenv("REMOTO_STACK_STRATEGY", "")

	out, _, err := run(t, "--config", path, "status", "--json")
	require.NoError(t, err)
	var st orchestrator.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "script", st.Strategy)
	assert.Len(t, st.Services, 3)
}

func TestDiagnose(t *testing.T) {
	first := &service.StartError{Service: "ffmpeg", Err: service.ErrDependencyMissing, Remedy: "install FFmpeg"}
	second := &service.StartError{Service: "backend", Err: service.ErrStartVerification, Remedy: "inspect backend.log"}
	dup := &service.StartError{Service: "ffmpeg", Err: service.ErrDependencyMissing, Remedy: "install FFmpeg"}
	err := fmt.Errorf("start: %w", errors.Join(first, second, dup, errors.New("plain")))

	var buf bytes.Buffer
	diagnose(&buf, err)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Error: start: "))
	assert.Equal(t, 1, strings.Count(out, "install FFmpeg\n"))
	assert.Contains(t, out, "fix (backend): inspect backend.log")

	buf.Reset()
	diagnose(&buf, errors.New("boom"))
	assert.Equal(t, "Error: boom\n", buf.String())
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}

type runningSession struct{}

func (runningSession) Status() orchestrator.Status {
	return orchestrator.Status{
		Strategy: "individual",
		Services: []process_group.Status{{Name: "backend", Running: true, PID: 321}},
		APIURL:   "https://api.trycloudflare.com",
		Password: "remote-pw",
	}
}

func (runningSession) URLs() map[string]string { return nil }

func (runningSession) Stop(context.Context) error { return nil }

func TestStatusRemote(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(server.NewRouter(runningSession{}, "").Handler())
	defer ts.Close()

	out, _, err := run(t, "status", "--remote", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "321")
	assert.Contains(t, out, "remote-pw")

	_, _, err = run(t, "status", "--remote", "http://127.0.0.1:1")
	assert.Error(t, err)
}

func TestCommandsReceiveTheExecuteContext(t *testing.T) {
	isolate(t)
	t.Setenv("REMOTO_RELAY_BINARY", "remoto-missing-relay")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out, errOut bytes.Buffer
	root := buildRoot(&out, &errOut)
	root.SetArgs([]string{"restart", "--skip-dependency-check"})

	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("restart ignored the cancelled context")
	}
}
