package stages

import (
	"context"
	"fmt"
	"log/slog"

	"wheelsmith/internal/core"
)

// TestOptions configure the test-runner invocation.
type TestOptions struct {
	Verbose bool
	Capture bool
}

// TestRunner is the test-framework collaborator.
type TestRunner interface {
	Run(ctx context.Context, env *core.EnvironmentConfig, opts TestOptions) (string, error)
}

// ModuleTestRunner invokes a runner module (nose, pytest) through the
// selected interpreter.
type ModuleTestRunner struct {
	Exec *core.Executor
	// Module defaults to "nose".
	Module string
}

func (r *ModuleTestRunner) module() string {
	if r.Module != "" {
		return r.Module
	}
	return "nose"
}

// Run implements TestRunner.
func (r *ModuleTestRunner) Run(ctx context.Context, env *core.EnvironmentConfig, opts TestOptions) (string, error) {
	args := []string{"-m", r.module()}
	if opts.Verbose {
		args = append(args, "-v")
	}
	if !opts.Capture {
		args = append(args, "-s")
	}
	return r.Exec.Run(ctx, env, env.Interpreter, args...)
}

// Tests is the test execution stage.
type Tests struct {
	Runner TestRunner
	Opts   TestOptions
	Logger *slog.Logger
}

// NewTests wires the test-runner collaborator.
func NewTests(runner TestRunner, opts TestOptions, logger *slog.Logger) *Tests {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tests{Runner: runner, Opts: opts, Logger: logger.With("component", "tests")}
}

// Stage wraps the test run as a gating pipeline stage.
func (t *Tests) Stage(ordinal int) core.Stage {
	return core.Stage{
		Name:    "tests",
		Ordinal: ordinal,
		Gating:  true,
		Run:     t.Run,
	}
}

// Run executes the full suite. A non-zero runner exit means failing
// tests (a code defect); any other error means the harness itself
// could not run (an infrastructure defect). The two get distinct
// classifications because they call for different fixes.
func (t *Tests) Run(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
	t.Logger.Info("running test suite", "verbose", t.Opts.Verbose)
	out, err := t.Runner.Run(ctx, env, t.Opts)
	if err == nil {
		return out, nil
	}
	if core.IsExitError(err) {
		return out, core.NewStageError(core.KindTestFailure, out,
			fmt.Errorf("test suite failed: %w", err))
	}
	return out, core.NewStageError(core.KindTestRunner, out,
		fmt.Errorf("test runner crashed: %w", err))
}
