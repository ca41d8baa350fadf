// Package deps installs the third-party packages a build needs, in two
// disjoint channels: the system-level package manager first, so its
// native shared libraries exist before the language-level installer
// resolves against them, then the language-level channel. Any install
// failure is fatal; a partial dependency set is never tolerated.
package deps

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"wheelsmith/internal/core"
)

// SystemInstaller is the system-level package manager collaborator.
type SystemInstaller interface {
	// Install installs every spec in the manifest, forcing reinstall
	// when asked so a stale runner cache cannot shadow the pinned
	// versions.
	Install(ctx context.Context, env *core.EnvironmentConfig, manifestPath string, forceReinstall bool) (string, error)
	// InterpreterPrefix reports the environment prefix the manager
	// installs into, used to detect interpreter-selection mismatches.
	InterpreterPrefix(ctx context.Context, env *core.EnvironmentConfig) (string, error)
}

// LanguageInstaller is the language-level installer collaborator.
type LanguageInstaller interface {
	Install(ctx context.Context, env *core.EnvironmentConfig, packages []string) (string, error)
}

// CondaInstaller drives a conda-compatible system package manager.
type CondaInstaller struct {
	Exec *core.Executor
	// Command defaults to "conda"; runners with a mambaforge layout
	// can point this elsewhere.
	Command string
}

func (c *CondaInstaller) command() string {
	if c.Command != "" {
		return c.Command
	}
	return "conda"
}

// Install implements SystemInstaller.
func (c *CondaInstaller) Install(ctx context.Context, env *core.EnvironmentConfig, manifestPath string, forceReinstall bool) (string, error) {
	args := []string{"install", "--yes", "--quiet", "--file", manifestPath}
	if forceReinstall {
		args = append(args, "--force-reinstall")
	}
	return c.Exec.Run(ctx, env, c.command(), args...)
}

// InterpreterPrefix implements SystemInstaller.
func (c *CondaInstaller) InterpreterPrefix(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
	out, err := c.Exec.Run(ctx, env, c.command(), "info", "--base")
	return strings.TrimSpace(out), err
}

// PipInstaller drives the language-level installer through the run's
// selected interpreter, which pins the channel to the right
// environment by construction.
type PipInstaller struct {
	Exec *core.Executor
}

// Install implements LanguageInstaller.
func (p *PipInstaller) Install(ctx context.Context, env *core.EnvironmentConfig, packages []string) (string, error) {
	args := append([]string{"-m", "pip", "install", "--upgrade"}, packages...)
	return p.Exec.Run(ctx, env, env.Interpreter, args...)
}

// Installer sequences the two channels.
type Installer struct {
	System   SystemInstaller
	Language LanguageInstaller
	Logger   *slog.Logger
}

// NewInstaller wires the two channel collaborators.
func NewInstaller(system SystemInstaller, language LanguageInstaller, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{System: system, Language: language, Logger: logger.With("component", "deps")}
}

// Stage wraps Install as a gating pipeline stage.
func (i *Installer) Stage(cfg *core.Config, ordinal int) core.Stage {
	return core.Stage{
		Name:    "dependencies",
		Ordinal: ordinal,
		Gating:  true,
		Run: func(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
			return i.Install(ctx, cfg, env)
		},
	}
}

// Install runs the system channel to completion, then the language
// channel. The system channel may be empty; the ordering holds anyway.
func (i *Installer) Install(ctx context.Context, cfg *core.Config, env *core.EnvironmentConfig) (string, error) {
	var transcript strings.Builder

	if manifest := cfg.Dependencies.SystemManifest; manifest != "" {
		parsed, err := ParseManifest(manifest)
		if err != nil {
			return "", err
		}
		i.Logger.Info("installing system channel", "manifest", manifest, "packages", len(parsed.Specs))

		if err := i.checkInterpreter(ctx, env); err != nil {
			return "", err
		}

		out, err := i.System.Install(ctx, env, manifest, true)
		transcript.WriteString(out)
		if err != nil {
			return transcript.String(), core.NewStageError(core.KindDependencyInstall, out,
				fmt.Errorf("system channel: %w", err))
		}
	}

	if pkgs := cfg.Dependencies.LanguagePackages; len(pkgs) > 0 {
		i.Logger.Info("installing language channel", "packages", pkgs)
		out, err := i.Language.Install(ctx, env, pkgs)
		transcript.WriteString(out)
		if err != nil {
			return transcript.String(), core.NewStageError(core.KindDependencyInstall, out,
				fmt.Errorf("language channel: %w", err))
		}
	}

	return transcript.String(), nil
}

// checkInterpreter fails loudly when the selected interpreter lives
// outside the system manager's environment prefix. Installing into one
// environment while building with another is a known runner hazard
// that otherwise surfaces as an inexplicable import error much later.
func (i *Installer) checkInterpreter(ctx context.Context, env *core.EnvironmentConfig) error {
	prefix, err := i.System.InterpreterPrefix(ctx, env)
	if err != nil {
		return core.NewStageError(core.KindDependencyInstall, prefix,
			fmt.Errorf("query system manager prefix: %w", err))
	}
	if prefix == "" {
		return nil
	}
	if !underPrefix(env.Interpreter, prefix) {
		return core.Errorf(core.KindDependencyInstall,
			"interpreter %s is outside the system manager prefix %s; refusing to install into the wrong environment",
			env.Interpreter, prefix)
	}
	return nil
}

func underPrefix(interpreter, prefix string) bool {
	interp := filepath.Clean(interpreter)
	pref := filepath.Clean(prefix)
	if runtime.GOOS == "windows" {
		interp = strings.ToLower(interp)
		pref = strings.ToLower(pref)
	}
	rel, err := filepath.Rel(pref, interp)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
