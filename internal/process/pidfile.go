package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WritePIDFile records pid at path so a later invocation can find the process.
func WritePIDFile(path string, pid int) error {
	if path == "" {
		return errors.New("empty pid file path")
	}
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return WriteFileAtomic(path, []byte(strconv.Itoa(pid)), 0o600)
}

// ReadPIDFile returns the recorded PID. A missing, empty or unparsable file,
// or a non-positive value, reads as "no PID" rather than an error.
func ReadPIDFile(path string) (int, bool) {
	if path == "" {
		return 0, false
	}
	// #nosec G304 -- pid files live under the configured data dir
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	first, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// RemovePIDFile deletes the PID file; a missing file is not an error.
func RemovePIDFile(path string) error {
	return removeIfExists(path)
}

func removeIfExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// WriteFileAtomic writes data to a temp file in the same directory and renames
// it over path, so readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// RemoveFile deletes a state file (URL, secret) if present.
func RemoveFile(path string) error { return removeIfExists(path) }
