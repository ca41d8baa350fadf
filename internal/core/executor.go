package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Executor runs one external command at a time with the run's
// environment applied and combined output captured. Every collaborator
// (version control, package managers, toolchain, test runner, packager)
// goes through here so timeout and capture behavior is uniform.
type Executor struct{}

// NewExecutor returns a ready Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Run executes name with args inside env's working directory. It
// blocks until the process exits or ctx is done, in which case the
// process is killed and the context error is reported alongside any
// partial output.
func (e *Executor) Run(ctx context.Context, env *EnvironmentConfig, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = env.WorkDir
	cmd.Env = env.Environ()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return out.String(), fmt.Errorf("%s timed out: %w", name, ctxErr)
		}
		return out.String(), fmt.Errorf("%s canceled: %w", name, ctxErr)
	}
	return out.String(), err
}

// IsExitError reports whether err means the command started and then
// exited non-zero, as opposed to failing to start at all. The test
// stage relies on this to separate failing tests from a broken harness.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
