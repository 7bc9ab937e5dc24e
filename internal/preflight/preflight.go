// Package preflight validates the environment before any pipeline work:
// external tools must be runnable and input paths must exist.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// LocalToolDir is the directory, relative to the working directory, that is
// added to the tool search path when it exists.
const LocalToolDir = "ffmpeg"

const installHint = "Please install FFmpeg (including ffmpeg and ffprobe) before running this script. https://ffmpeg.org/download.html"

// ErrToolMissing is returned when a required tool cannot be found or run.
var ErrToolMissing = errors.New("required tool is not installed")

// InputNotFoundError reports a configured input path that does not exist.
type InputNotFoundError struct {
	Role string // "source", "driving", "batch source", "batch driving"
	Path string
}

func (e *InputNotFoundError) Error() string {
	return fmt.Sprintf("%s info not found: %s", e.Role, e.Path)
}

func (e *InputNotFoundError) Unwrap() error { return fs.ErrNotExist }

// Toolchain is a tool search path scoped to this process's children. The
// process environment itself is never modified.
type Toolchain struct {
	path string
}

// NewToolchain returns a toolchain searching basePath, with <workDir>/ffmpeg
// appended when that directory exists.
func NewToolchain(workDir, basePath string) *Toolchain {
	path := basePath
	dir := filepath.Join(workDir, LocalToolDir)
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		if path == "" {
			path = dir
		} else {
			path += string(os.PathListSeparator) + dir
		}
	}
	return &Toolchain{path: path}
}

// SearchPath returns the PATH value handed to child processes.
func (t *Toolchain) SearchPath() string {
	return t.path
}

// Env returns a copy of base with PATH replaced by the toolchain search path.
func (t *Toolchain) Env(base []string) []string {
	env := make([]string, 0, len(base)+1)
	for _, kv := range base {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		env = append(env, kv)
	}
	return append(env, "PATH="+t.path)
}

// LookPath resolves name against the toolchain search path.
func (t *Toolchain) LookPath(name string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		if isExecutable(name) {
			return name, nil
		}
		return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
	}
	for _, dir := range filepath.SplitList(t.path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
}

// Check runs "<name> -version" and returns the first line of its output.
// Any failure is reported as ErrToolMissing.
func (t *Toolchain) Check(ctx context.Context, name string) (string, error) {
	bin, err := t.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v. %s", ErrToolMissing, err, installHint)
	}
	cmd := exec.CommandContext(ctx, bin, "-version")
	cmd.Env = t.Env(os.Environ())
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s -version failed: %v. %s", ErrToolMissing, name, err, installHint)
	}
	firstLine := strings.TrimSpace(string(out))
	if idx := strings.Index(firstLine, "\n"); idx > 0 {
		firstLine = firstLine[:idx]
	}
	return firstLine, nil
}

// CheckAll runs Check for every tool and stops at the first failure.
func (t *Toolchain) CheckAll(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := t.Check(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// CheckInputs verifies the single-shot source and driving inputs exist.
func CheckInputs(source, driving string) error {
	if err := mustExist("source", source); err != nil {
		return err
	}
	return mustExist("driving", driving)
}

// CheckBatchDirs verifies the batch source tree and driving directory exist.
func CheckBatchDirs(sourceDir, drivingDir string) error {
	if err := mustExist("batch source", sourceDir); err != nil {
		return err
	}
	return mustExist("batch driving", drivingDir)
}

func mustExist(role, path string) error {
	if _, err := os.Stat(path); err != nil {
		return &InputNotFoundError{Role: role, Path: path}
	}
	return nil
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular() && fi.Mode().Perm()&0111 != 0
}
