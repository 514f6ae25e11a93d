// Package secret manages the session credential shared with the backend.
package secret

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strings"

	"github.com/loykin/remoto/internal/process"
)

const (
	// DefaultLength is the length of generated credentials.
	DefaultLength = 16
	alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrEmpty is returned when asked to store an empty credential.
var ErrEmpty = errors.New("session password must not be empty")

// Generate returns n characters drawn uniformly from [A-Za-z0-9].
func Generate(n int) (string, error) {
	if n <= 0 {
		n = DefaultLength
	}
	size := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// Store persists the credential in a single file. The file is overwritten on
// every rotation and left in place on stop.
type Store struct {
	Path string
}

// Load returns the stored credential; false when none has been written yet.
func (s Store) Load() (string, bool) {
	// #nosec G304 -- path is under the configured data dir
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(b))
	return v, v != ""
}

// Save writes value, replacing any previous credential.
func (s Store) Save(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrEmpty
	}
	if err := process.WriteFileAtomic(s.Path, []byte(value), 0o600); err != nil {
		return fmt.Errorf("save session password: %w", err)
	}
	return nil
}

// Rotate stores override when given, otherwise a freshly generated credential,
// and returns the value now in effect.
func (s Store) Rotate(override string) (string, error) {
	value := strings.TrimSpace(override)
	if value == "" {
		var err error
		if value, err = Generate(DefaultLength); err != nil {
			return "", err
		}
	}
	if err := s.Save(value); err != nil {
		return "", err
	}
	return value, nil
}

// Exists reports whether a credential file is present.
func (s Store) Exists() bool {
	_, err := os.Stat(s.Path)
	return !errors.Is(err, fs.ErrNotExist)
}
