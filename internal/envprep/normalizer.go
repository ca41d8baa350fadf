// Package envprep prepares the filesystem and shell environment so
// later pipeline stages behave identically regardless of host quirks:
// submodule content is present, symbolic links are real links, stale
// local modifications are gone, and the interpreter and search path
// are pinned for the remainder of the run.
package envprep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"wheelsmith/internal/core"
)

// Normalizer establishes the run's EnvironmentConfig. It is the only
// writer of that snapshot; every later stage reads it.
type Normalizer struct {
	Repo   Repository
	Logger *slog.Logger
}

// New returns a Normalizer over the given repository collaborator.
func New(repo Repository, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{Repo: repo, Logger: logger.With("component", "envprep")}
}

// Stage wraps Normalize as the pipeline's first, gating stage.
func (n *Normalizer) Stage(cfg *core.Config, ordinal int) core.Stage {
	return core.Stage{
		Name:    "normalize",
		Ordinal: ordinal,
		Gating:  true,
		Run: func(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
			return n.Normalize(ctx, cfg, env)
		},
	}
}

// Normalize runs the normalization sequence and fills env. It is
// idempotent: re-invoking it produces an identical EnvironmentConfig
// and working-tree state, which is what makes pipeline re-runs safe.
func (n *Normalizer) Normalize(ctx context.Context, cfg *core.Config, env *core.EnvironmentConfig) (string, error) {
	var transcript strings.Builder

	if err := n.preflight(cfg); err != nil {
		return "", err
	}

	out, err := n.Repo.InitSubmodules(ctx, env)
	transcript.WriteString(out)
	if err != nil {
		return transcript.String(), core.NewStageError(core.KindSourceUnavailable, out,
			fmt.Errorf("init submodules: %w", err))
	}

	if cfg.Symlinks {
		out, err = n.Repo.EnableSymlinks(ctx, env)
		transcript.WriteString(out)
		if err != nil {
			return transcript.String(), core.NewStageError(core.KindEnvironmentSetup, out,
				fmt.Errorf("enable symlinks: %w", err))
		}
	}

	// Reset after the symlink switch: enabling core.symlinks on its
	// own leaves placeholder text files in place, the reset is what
	// rematerializes them as links.
	out, err = n.Repo.Reset(ctx, env)
	transcript.WriteString(out)
	if err != nil {
		return transcript.String(), core.NewStageError(core.KindEnvironmentSetup, out,
			fmt.Errorf("reset working tree: %w", err))
	}

	env.Interpreter = cfg.Interpreter
	env.SearchPath = ComposeSearchPath(cfg.SearchPath...)
	env.SymlinksEnabled = cfg.Symlinks
	if env.Vars == nil {
		env.Vars = make(map[string]string, len(cfg.Env))
	}
	for k, v := range cfg.Env {
		env.Vars[k] = v
	}

	n.Logger.Info("environment normalized",
		"interpreter", env.Interpreter, "symlinks", env.SymlinksEnabled)
	return transcript.String(), nil
}

// preflight fails fast when the tools the whole run depends on are
// absent, instead of letting a later stage die with a confusing error.
func (n *Normalizer) preflight(cfg *core.Config) error {
	if _, err := lookPath("git"); err != nil {
		return core.Errorf(core.KindEnvironmentSetup, "git not found in PATH")
	}
	if _, err := os.Stat(cfg.Interpreter); err != nil {
		return core.Errorf(core.KindEnvironmentSetup,
			"interpreter %s not found: %v", cfg.Interpreter, err)
	}
	return nil
}

// ComposeSearchPath prepends the given locations to the host PATH,
// first entry winning. Empty entries are dropped.
func ComposeSearchPath(prepend ...string) string {
	parts := make([]string, 0, len(prepend)+1)
	for _, p := range prepend {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if host := os.Getenv("PATH"); host != "" {
		parts = append(parts, host)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}
