package envprep

import (
	"context"
	"os/exec"

	"wheelsmith/internal/core"
)

// Repository is the version-control collaborator. The pipeline only
// needs three operations from it; tests substitute a deterministic
// fake.
type Repository interface {
	// InitSubmodules recursively fetches and initializes nested
	// repository content. Safe to call twice.
	InitSubmodules(ctx context.Context, env *core.EnvironmentConfig) (string, error)
	// EnableSymlinks configures the working tree to materialize
	// symbolic links as real links instead of plain-text placeholders.
	EnableSymlinks(ctx context.Context, env *core.EnvironmentConfig) (string, error)
	// Reset discards local modifications, returning the tree to the
	// last known-good checkout.
	Reset(ctx context.Context, env *core.EnvironmentConfig) (string, error)
}

// GitRepository drives the git CLI.
type GitRepository struct {
	Exec *core.Executor
}

// NewGitRepository returns a git-backed Repository.
func NewGitRepository(exec *core.Executor) *GitRepository {
	return &GitRepository{Exec: exec}
}

// InitSubmodules implements Repository.
func (g *GitRepository) InitSubmodules(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
	return g.Exec.Run(ctx, env, "git", "submodule", "update", "--init", "--recursive")
}

// EnableSymlinks implements Repository. The config change alone does
// not rewrite already checked-out placeholder files; the normalizer
// resets the tree afterwards so links rematerialize.
func (g *GitRepository) EnableSymlinks(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
	return g.Exec.Run(ctx, env, "git", "config", "core.symlinks", "true")
}

// Reset implements Repository.
func (g *GitRepository) Reset(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
	return g.Exec.Run(ctx, env, "git", "reset", "--hard")
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath
