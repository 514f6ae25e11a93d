package secret

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	re := regexp.MustCompile(`^[A-Za-z0-9]{16}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		v, err := Generate(0)
		require.NoError(t, err)
		assert.Regexp(t, re, v)
		seen[v] = true
	}
	assert.Len(t, seen, 50)

	v, err := Generate(32)
	require.NoError(t, err)
	assert.Len(t, v, 32)
}

func TestStore_RotateOverwrites(t *testing.T) {
	s := Store{Path: filepath.Join(t.TempDir(), "data", "session_password.txt")}
	_, ok := s.Load()
	assert.False(t, ok)
	assert.False(t, s.Exists())

	first, err := s.Rotate("")
	require.NoError(t, err)
	second, err := s.Rotate("")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	got, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, second, got)
	assert.True(t, s.Exists())

	b, _ := os.ReadFile(s.Path)
	assert.Equal(t, second, string(b))
}

func TestStore_Override(t *testing.T) {
	s := Store{Path: filepath.Join(t.TempDir(), "pw")}
	v, err := s.Rotate("  chosen-by-user ")
	require.NoError(t, err)
	assert.Equal(t, "chosen-by-user", v)
	got, _ := s.Load()
	assert.Equal(t, "chosen-by-user", got)
}

func TestStore_SaveRejectsEmpty(t *testing.T) {
	s := Store{Path: filepath.Join(t.TempDir(), "pw")}
	assert.ErrorIs(t, s.Save("   "), ErrEmpty)
	assert.False(t, s.Exists())
}
