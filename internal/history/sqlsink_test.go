package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteSink(t *testing.T) *SQLSink {
	t.Helper()
	s, err := NewSQLSinkFromDSN("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLSink_SendAndRecent(t *testing.T) {
	s := newSQLiteSink(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []Event{
		{Type: EventStart, OccurredAt: base, Session: "s1", Service: "mediamtx", PID: 101},
		{Type: EventStart, OccurredAt: base.Add(time.Second), Session: "s1", Service: "stream_tunnel", PID: 102,
			URL: "https://quiet-river.trycloudflare.com"},
		{Type: EventStartFailed, OccurredAt: base.Add(2 * time.Second), Session: "s1", Service: "backend",
			Error: "start backend: verification failed"},
	}
	for _, e := range events {
		require.NoError(t, s.Send(ctx, e))
	}

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, EventStartFailed, got[0].Type)
	assert.Equal(t, "backend", got[0].Service)
	assert.Equal(t, "start backend: verification failed", got[0].Error)
	assert.Empty(t, got[0].URL)

	assert.Equal(t, "stream_tunnel", got[1].Service)
	assert.Equal(t, "https://quiet-river.trycloudflare.com", got[1].URL)
	assert.Equal(t, 102, got[1].PID)

	assert.Equal(t, "mediamtx", got[2].Service)
	assert.True(t, got[2].OccurredAt.Equal(base), "occurred_at round trip: %v", got[2].OccurredAt)
	assert.Equal(t, "s1", got[2].Session)
}

func TestSQLSink_RecentLimit(t *testing.T) {
	s := newSQLiteSink(t)
	ctx := context.Background()
	for i := 0; i < DefaultLimit+5; i++ {
		require.NoError(t, s.Send(ctx, Event{Type: EventStop, OccurredAt: time.Now(), Session: "s", Service: "ffmpeg", PID: i + 1}))
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, DefaultLimit+5, got[0].PID)

	got, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultLimit)
}

func TestSQLSink_MemoryAndBarePath(t *testing.T) {
	mem, err := NewSQLSinkFromDSN(":memory:")
	require.NoError(t, err)
	defer func() { _ = mem.Close() }()
	assert.Equal(t, "sqlite", mem.Dialect())
	require.NoError(t, mem.Send(context.Background(), Event{Type: EventStart, OccurredAt: time.Now(), Service: "backend"}))
	got, err := mem.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	bare, err := NewSQLSinkFromDSN(filepath.Join(t.TempDir(), "bare.db"))
	require.NoError(t, err)
	_ = bare.Close()
}

func TestSQLSink_EmptyDSN(t *testing.T) {
	_, err := NewSQLSinkFromDSN("  ")
	assert.Error(t, err)
}

func TestSQLSink_ReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN(path)
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), Event{Type: EventStart, OccurredAt: time.Now(), Session: "a", Service: "mediamtx", PID: 7}))
	require.NoError(t, s.Close())

	s, err = NewSQLSinkFromDSN(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].PID)
}

func TestNop(t *testing.T) {
	var n Nop
	assert.NoError(t, n.Send(context.Background(), Event{}))
	got, err := n.Recent(context.Background(), 3)
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, DefaultLimit, Limit(-1))
	assert.Equal(t, 4, Limit(4))
}
