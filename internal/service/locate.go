package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// ProbeTimeout bounds a single version probe.
const ProbeTimeout = 5 * time.Second

// WellKnownDirs are searched after PATH; package managers often install
// outside the PATH of a non-login shell.
var WellKnownDirs = []string{"/opt/homebrew/bin", "/usr/local/bin", "/usr/bin"}

// Locate resolves binary to an executable path. Absolute or relative paths
// are checked as given; bare names are looked up on PATH, then in extra
// directories, then in WellKnownDirs.
func Locate(binary string, extra ...string) (string, error) {
	if binary == "" {
		return "", fmt.Errorf("%w: empty executable name", ErrDependencyMissing)
	}
	if strings.ContainsRune(binary, os.PathSeparator) || strings.Contains(binary, "/") {
		if isExecutable(binary) {
			return binary, nil
		}
		return "", fmt.Errorf("%w: %s is not an executable file", ErrDependencyMissing, binary)
	}
	if p, err := exec.LookPath(binary); err == nil {
		return p, nil
	}
	names := []string{binary}
	if runtime.GOOS == "windows" && filepath.Ext(binary) == "" {
		names = append(names, binary+".exe")
	}
	dirs := append(append([]string{}, extra...), WellKnownDirs...)
	for _, d := range dirs {
		if d == "" {
			continue
		}
		for _, n := range names {
			p := filepath.Join(d, n)
			if isExecutable(p) {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s not found on PATH or in %s", ErrDependencyMissing, binary, strings.Join(dirs, ", "))
}

func isExecutable(p string) bool {
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return fi.Mode().Perm()&0o111 != 0
}

// ProbeVersion checks that the executable actually runs by asking it for its
// version, first with --version and then with -version.
func ProbeVersion(ctx context.Context, path string) (string, error) {
	var errs []error
	for _, flag := range []string{"--version", "-version"} {
		out, err := runProbe(ctx, path, flag)
		if err == nil {
			first, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
			return strings.TrimSpace(first), nil
		}
		errs = append(errs, fmt.Errorf("%s %s: %w", filepath.Base(path), flag, err))
	}
	return "", fmt.Errorf("%w: %w", ErrDependencyMissing, errors.Join(errs...))
}

func runProbe(ctx context.Context, path, flag string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	// #nosec G204 -- path was resolved by Locate
	out, err := exec.CommandContext(ctx, path, flag).CombinedOutput()
	return string(out), err
}

// Requirement is an external executable a service needs.
type Requirement struct {
	Service string
	Binary  string
	Remedy  string
	// NoProbe skips the version probe (scripts have no version flag).
	NoProbe bool
}

// Resolved is a requirement that passed Locate and ProbeVersion.
type Resolved struct {
	Requirement
	Path    string
	Version string
}

// Check locates and probes req.
func Check(ctx context.Context, req Requirement, extra ...string) (Resolved, error) {
	path, err := Locate(req.Binary, extra...)
	if err != nil {
		return Resolved{Requirement: req}, startErr(req.Service, err, req.Remedy)
	}
	if req.NoProbe {
		return Resolved{Requirement: req, Path: path}, nil
	}
	v, err := ProbeVersion(ctx, path)
	if err != nil {
		return Resolved{Requirement: req, Path: path}, startErr(req.Service, err, req.Remedy)
	}
	return Resolved{Requirement: req, Path: path, Version: v}, nil
}
