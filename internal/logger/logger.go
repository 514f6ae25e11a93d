package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where managed services write their output.
// Each service gets Dir/<name>.log; rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`          // base directory for service logs
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// Path returns the log file path for a service name.
func (c Config) Path(name string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s.log", name))
}

func (c Config) rotator(name string) *lj.Logger {
	return &lj.Logger{
		Filename:   c.Path(name),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Writer returns a rotating writer for lines the controller itself appends
// (e.g. output captured from a piped child). The caller owns Close.
func (c Config) Writer(name string) (io.WriteCloser, error) {
	if c.Dir == "" {
		return nil, fmt.Errorf("log dir not configured for %s", name)
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, err
	}
	return c.rotator(name), nil
}

// OpenFile prepares a plain file handed directly to a child process as its
// stdout/stderr. A non-empty log from a previous run is rotated out first so
// backups honour MaxBackups/MaxAgeDays; the child keeps writing even if the
// controller exits.
func (c Config) OpenFile(name string) (*os.File, error) {
	if c.Dir == "" {
		return nil, fmt.Errorf("log dir not configured for %s", name)
	}
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return nil, err
	}
	path := c.Path(name)
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		r := c.rotator(name)
		if err := r.Rotate(); err != nil {
			return nil, fmt.Errorf("rotate %s: %w", path, err)
		}
		_ = r.Close()
	}
	// #nosec G304 -- path is derived from configured log dir and a fixed service name
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
