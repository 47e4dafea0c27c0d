// Package compiler adapts the mpy-cross bytecode compiler as an optional
// external tool: the pipeline degrades to shipping raw source when it is
// absent or its format doesn't match the target board.
package compiler

import (
	"context"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CompileFailed is returned when a compile invocation exits non-zero or its
// output cannot be parsed.
var CompileFailed = errors.New("compile failed")

// CommandExecutor abstracts subprocess execution so tests can substitute a
// fake compiler without shelling out.
type CommandExecutor interface {
	// Output runs name with args and returns its combined stdout+stderr.
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// LookPath resolves an executable path, mirroring exec.LookPath.
	LookPath(file string) (string, error)
}

// execCommandExecutor runs real subprocesses via os/exec.
type execCommandExecutor struct{}

// NewCommandExecutor returns a CommandExecutor backed by os/exec.
func NewCommandExecutor() CommandExecutor { return execCommandExecutor{} }

func (execCommandExecutor) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

func (execCommandExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

var formatPattern = regexp.MustCompile(`mpy-cross emitting mpy v(\d+)`)

// Adapter wraps a located mpy-cross binary.
type Adapter struct {
	Exec   CommandExecutor
	Binary string // path to the compiler, resolved by Locate
}

// Locate finds the platform-specific compiler binary at path. It returns a
// nil *Adapter (not an error) when the binary is absent or unusable,
// reflecting that the compiler is an optional capability.
func Locate(exec CommandExecutor, path string) (*Adapter, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, nil
	}
	return &Adapter{Exec: exec, Binary: resolved}, nil
}

// ReadCompilerFormat runs the compiler with its version flag and extracts
// the bytecode format major version from output matching
// "mpy-cross emitting mpy v(\d+)".
func (a *Adapter) ReadCompilerFormat(ctx context.Context) (int, error) {
	out, err := a.Exec.Output(ctx, "", a.Binary, "--version")
	if err != nil {
		return 0, errors.Wrap(CompileFailed, err.Error())
	}
	m := formatPattern.FindStringSubmatch(string(out))
	if m == nil {
		return 0, errors.Wrapf(CompileFailed, "unrecognized compiler version output: %q", out)
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, errors.Wrap(CompileFailed, err.Error())
	}
	return v, nil
}

// Supports reports whether the compiler's format matches the board's.
func (a *Adapter) Supports(ctx context.Context, boardFormat int) bool {
	v, err := a.ReadCompilerFormat(ctx)
	return err == nil && v == boardFormat
}

// Compile produces a .mpy file for filePath. A filePath already ending in
// .mpy is returned unchanged. basePath, if non-empty, is used as the
// working directory and a filePath under it is passed relative to it, so
// embedded source paths in the output are relative; arch, if non-empty, is
// passed as -march.
func (a *Adapter) Compile(ctx context.Context, filePath, basePath, arch string) (string, error) {
	if strings.HasSuffix(filePath, ".mpy") {
		return filePath, nil
	}
	outPath := strings.TrimSuffix(filePath, ".py") + ".mpy"
	args := []string{}
	if arch != "" {
		args = append(args, "-march="+arch)
	}
	arg := filePath
	if basePath != "" {
		if rel, err := filepath.Rel(basePath, filePath); err == nil && !strings.HasPrefix(rel, "..") {
			arg = rel
		}
	}
	args = append(args, arg)
	if out, err := a.Exec.Output(ctx, basePath, a.Binary, args...); err != nil {
		return "", errors.Wrapf(CompileFailed, "%s: %s", err, out)
	}
	return outPath, nil
}
