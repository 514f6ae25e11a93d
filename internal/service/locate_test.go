package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocate(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	p := writeExec(t, dir, "remoto-fake-tool", versionPrelude)

	got, err := Locate("remoto-fake-tool", "", dir)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	got, err = Locate(p)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = Locate("remoto-definitely-missing", dir)
	assert.ErrorIs(t, err, ErrDependencyMissing)

	plain := filepath.Join(dir, "not-exec")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))
	_, err = Locate(plain)
	assert.ErrorIs(t, err, ErrDependencyMissing)

	_, err = Locate("")
	assert.ErrorIs(t, err, ErrDependencyMissing)
}

func TestProbeVersion(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	ctx := context.Background()

	ok := writeExec(t, dir, "ok", versionPrelude+"exit 1\n")
	v, err := ProbeVersion(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, "fake 1.0", v)

	single := writeExec(t, dir, "single", `[ "$1" = "-version" ] && { echo "ffmpeg version 7"; exit 0; }
exit 1
`)
	v, err = ProbeVersion(ctx, single)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg version 7", v)

	broken := writeExec(t, dir, "broken", "exit 2\n")
	_, err = ProbeVersion(ctx, broken)
	assert.ErrorIs(t, err, ErrDependencyMissing)
}

func TestCheck(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	writeExec(t, dir, "tool", versionPrelude)
	writeExec(t, dir, "noversion", "exit 1\n")
	ctx := context.Background()

	res, err := Check(ctx, Requirement{Service: "x", Binary: "tool"}, dir)
	require.NoError(t, err)
	assert.Equal(t, "fake 1.0", res.Version)

	_, err = Check(ctx, Requirement{Service: "x", Binary: "noversion", Remedy: "reinstall"}, dir)
	var se *StartError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "reinstall", se.Remedy)
	assert.ErrorIs(t, err, ErrDependencyMissing)

	res, err = Check(ctx, Requirement{Service: "s", Binary: "noversion", NoProbe: true}, dir)
	require.NoError(t, err)
	assert.Empty(t, res.Version)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
	assert.Equal(t, "dependency_missing", Reason(startErr("a", ErrDependencyMissing, "")))
	assert.Equal(t, "capture_timeout", Reason(startErr("a", ErrCaptureTimeout, "")))
	assert.Equal(t, "stream_closed", Reason(ErrStreamClosed))
	assert.Equal(t, "verification_failed", Reason(ErrStartVerification))
	assert.Equal(t, "error", Reason(errors.New("x")))

	e := startErr("ffmpeg", ErrStartVerification, "inspect log")
	assert.Equal(t, "start ffmpeg: "+ErrStartVerification.Error(), e.Error())
}
