// Package stages holds the pipeline stages that come after environment
// normalization and dependency install: the native extension build,
// the test run, and the distributable build. Each external tool sits
// behind a one-purpose interface so tests can substitute fakes.
package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"wheelsmith/internal/core"
)

// Toolchain is the compiler-toolchain collaborator: it compiles the
// native extension sources in place and installs the package into the
// active environment.
type Toolchain interface {
	BuildInPlace(ctx context.Context, env *core.EnvironmentConfig) (string, error)
	InstallPackage(ctx context.Context, env *core.EnvironmentConfig) (string, error)
}

// SetupToolchain drives a setup.py-style build descriptor through the
// run's selected interpreter.
type SetupToolchain struct {
	Exec *core.Executor
	// Descriptor defaults to "setup.py".
	Descriptor string
}

func (t *SetupToolchain) descriptor() string {
	if t.Descriptor != "" {
		return t.Descriptor
	}
	return "setup.py"
}

// BuildInPlace compiles extension modules next to their sources, so
// the test stage can load them without an intermediate install of the
// binaries themselves.
func (t *SetupToolchain) BuildInPlace(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
	return t.Exec.Run(ctx, env, env.Interpreter, t.descriptor(), "build_ext", "--inplace")
}

// InstallPackage installs the package into the active environment so
// the test suite can import it by name.
func (t *SetupToolchain) InstallPackage(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
	return t.Exec.Run(ctx, env, env.Interpreter, "-m", "pip", "install", ".")
}

// Build is the native build stage.
type Build struct {
	Toolchain Toolchain
	Logger    *slog.Logger
}

// NewBuild wires the toolchain collaborator.
func NewBuild(toolchain Toolchain, logger *slog.Logger) *Build {
	if logger == nil {
		logger = slog.Default()
	}
	return &Build{Toolchain: toolchain, Logger: logger.With("component", "build")}
}

// Stage wraps the build as a gating pipeline stage. Build failures are
// never retried; a native-build failure is virtually never transient.
func (b *Build) Stage(ordinal int) core.Stage {
	return core.Stage{
		Name:    "build",
		Ordinal: ordinal,
		Gating:  true,
		Run:     b.Run,
	}
}

// Run compiles in place, then installs the package.
func (b *Build) Run(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
	var transcript strings.Builder

	b.Logger.Info("building native extensions in place")
	out, err := b.Toolchain.BuildInPlace(ctx, env)
	transcript.WriteString(out)
	if err != nil {
		return transcript.String(), core.NewStageError(core.KindBuild, out,
			fmt.Errorf("build extensions: %w", err))
	}

	b.Logger.Info("installing package")
	out, err = b.Toolchain.InstallPackage(ctx, env)
	transcript.WriteString(out)
	if err != nil {
		return transcript.String(), core.NewStageError(core.KindBuild, out,
			fmt.Errorf("install package: %w", err))
	}

	return transcript.String(), nil
}
