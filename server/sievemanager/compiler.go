package sievemanager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/foxcpp/go-sieve"

	"github.com/grufocom/postsible/consts"
)

// DefaultCompilerTimeout bounds a single compiler run.
const DefaultCompilerTimeout = 10 * time.Second

// Compiler turns the script at src into the binary form at dst.
type Compiler interface {
	Compile(ctx context.Context, src, dst string) error
}

// Lint parses script with go-sieve, restricted to extensions. A parse
// failure is returned as a *consts.CompileError.
func Lint(script string, extensions []string) error {
	options := sieve.DefaultOptions()
	options.EnabledExtensions = extensions
	if _, err := sieve.Load(strings.NewReader(script), options); err != nil {
		return &consts.CompileError{Output: err.Error(), Err: err}
	}
	return nil
}

// ExecCompiler runs an external compiler as "<Path> <src> <dst>".
type ExecCompiler struct {
	Path    string
	Timeout time.Duration
}

func (c ExecCompiler) Compile(ctx context.Context, src, dst string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCompilerTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Path, src, dst)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return &consts.ExternalToolError{Tool: c.Path, Err: err}
	}
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return &consts.CompileError{
				Output: fmt.Sprintf("%s timed out after %s", c.Path, timeout),
				Err:    ctx.Err(),
			}
		}
		out := strings.TrimSpace(output.String())
		if out == "" {
			out = err.Error()
		}
		return &consts.CompileError{Output: out, Err: err}
	}

	info, err := os.Stat(dst)
	if err != nil {
		return &consts.CompileError{Output: fmt.Sprintf("%s produced no output file", c.Path), Err: err}
	}
	if info.Size() == 0 {
		return &consts.CompileError{Output: fmt.Sprintf("%s produced an empty output file", c.Path)}
	}
	return nil
}

// BuiltinCompiler is used when no external compiler is configured. The
// script has already passed Lint, so the source itself is written as the
// compiled artifact.
type BuiltinCompiler struct{}

func (BuiltinCompiler) Compile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("failed to write compiled script: %w", err)
	}
	return nil
}

// NewCompiler returns an ExecCompiler for path, or the builtin compiler when
// path is empty.
func NewCompiler(path string, timeout time.Duration) Compiler {
	if path == "" {
		return BuiltinCompiler{}
	}
	return ExecCompiler{Path: path, Timeout: timeout}
}

func compileResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, consts.ErrExternalTool):
		return "tool_error"
	case errors.Is(err, consts.ErrCompile):
		return "compile_error"
	default:
		return "failure"
	}
}
