package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("REMOTO_PASSWORD", "")
	t.Setenv("REMOTE_AI_PASSWORD", "")
	t.Chdir(t.TempDir())
	return home
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)
	c, err := Load("")
	require.NoError(t, err)

	root := filepath.Join(home, ".remoto")
	assert.Equal(t, root, c.Home)
	assert.Equal(t, filepath.Join(root, "data"), c.DataDir)
	assert.Equal(t, filepath.Join(root, "logs"), c.LogsDir)
	assert.Equal(t, 8554, c.Relay.RTSPPort)
	assert.Equal(t, 8888, c.Relay.HLSPort)
	assert.Equal(t, "screen", c.Relay.Path)
	assert.Equal(t, 2*time.Second, c.Relay.Settle)
	assert.Equal(t, 3*time.Second, c.Encoder.Settle)
	assert.Equal(t, 60*time.Second, c.Tunnel.CaptureTimeout)
	assert.Equal(t, "cloudflared", c.Tunnel.Binary)
	assert.Equal(t, time.Second, c.StopSettle)
	assert.Equal(t, 8000, c.Backend.Port)
	assert.Equal(t, "/health", c.Backend.HealthPath)
	assert.Equal(t, filepath.Join(c.Backend.Dir, "server", ".env"), c.Backend.EnvFile)
	assert.Equal(t, StrategyAuto, c.Stack.Strategy)
	assert.Equal(t, filepath.Join(c.DataDir, "history.db"), c.History.DSN)
	assert.Equal(t, "info", c.Log.Level)
	assert.Empty(t, c.Password)

	assert.Equal(t, filepath.Join(c.DataDir, "relay.pid"), c.PIDFile("relay"))
	assert.Equal(t, filepath.Join(c.DataDir, "stream_tunnel_url.txt"), c.URLFile("stream_tunnel"))
	assert.Equal(t, filepath.Join(c.DataDir, "session_password.txt"), c.SecretFile())
	assert.Equal(t, filepath.Join(c.DataDir, "remoto.lock"), c.LockFile())

	lc := c.Logger()
	assert.Equal(t, c.LogsDir, lc.Dir)
	assert.Equal(t, 10, lc.MaxSizeMB)
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	p := filepath.Join(dir, "remoto.toml")
	data := `
home = "` + filepath.ToSlash(filepath.Join(dir, "state")) + `"
search_paths = ["/opt/tools/bin"]

[log]
level = "debug"

[relay]
hls_port = 9888
settle = "500ms"

[tunnel]
capture_timeout = "0s"

[encoder]
args = ["-f", "lavfi", "-i", "testsrc"]

[backend]
port = 9000
health_path = ""
`
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	t.Setenv("REMOTO_RELAY_HLS_PORT", "7777")
	t.Setenv("REMOTE_AI_PASSWORD", "legacy-pass")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "state"), c.Home)
	assert.Equal(t, filepath.Join(dir, "state", "data"), c.DataDir)
	assert.Equal(t, []string{"/opt/tools/bin"}, c.SearchPaths)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 7777, c.Relay.HLSPort)
	assert.Equal(t, 500*time.Millisecond, c.Relay.Settle)
	assert.Equal(t, time.Duration(0), c.Tunnel.CaptureTimeout)
	assert.Equal(t, []string{"-f", "lavfi", "-i", "testsrc"}, c.Encoder.Args)
	assert.Equal(t, 9000, c.Backend.Port)
	assert.Empty(t, c.Backend.HealthPath)
	assert.Equal(t, "legacy-pass", c.Password)

	t.Setenv("REMOTO_PASSWORD", "new-pass")
	c, err = Load(p)
	require.NoError(t, err)
	assert.Equal(t, "new-pass", c.Password)
}

func TestLoad_HomeConfigPickedUp(t *testing.T) {
	home := isolate(t)
	root := filepath.Join(home, ".remoto")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.toml"), []byte("[api]\nlisten = \"127.0.0.1:7070\"\n"), 0o644))
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", c.API.Listen)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[relay\nhls_port = "), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	port := filepath.Join(dir, "port.toml")
	require.NoError(t, os.WriteFile(port, []byte("[backend]\nport = 70000\n"), 0o644))
	_, err = Load(port)
	assert.ErrorContains(t, err, "backend.port")

	strat := filepath.Join(dir, "strat.toml")
	require.NoError(t, os.WriteFile(strat, []byte("[stack]\nstrategy = \"script\"\n"), 0o644))
	_, err = Load(strat)
	assert.ErrorContains(t, err, "stack.script")

	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte("[stack]\nstrategy = \"cluster\"\n"), 0o644))
	_, err = Load(unknown)
	assert.ErrorContains(t, err, "unknown stack.strategy")
}
