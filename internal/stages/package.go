package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"wheelsmith/internal/core"
)

// Packager is the packaging-tool collaborator: it turns the installed
// package state into one distributable artifact.
type Packager interface {
	BuildDistributable(ctx context.Context, env *core.EnvironmentConfig, kind, outputDir string) (artifact string, output string, err error)
}

// SetupPackager builds wheels and sdists through the selected
// interpreter.
type SetupPackager struct {
	Exec *core.Executor
	// Descriptor defaults to "setup.py".
	Descriptor string
}

func (p *SetupPackager) descriptor() string {
	if p.Descriptor != "" {
		return p.Descriptor
	}
	return "setup.py"
}

// BuildDistributable implements Packager. Kind "binary" builds a
// wheel, "source" an sdist.
func (p *SetupPackager) BuildDistributable(ctx context.Context, env *core.EnvironmentConfig, kind, outputDir string) (string, string, error) {
	var command, pattern string
	switch kind {
	case "binary":
		command, pattern = "bdist_wheel", "*.whl"
	case "source":
		command, pattern = "sdist", "*.tar.gz"
	default:
		return "", "", fmt.Errorf("unknown packaging kind %q", kind)
	}

	out, err := p.Exec.Run(ctx, env, env.Interpreter, p.descriptor(), command, "--dist-dir", outputDir)
	if err != nil {
		return "", out, err
	}

	artifact, err := newestMatch(filepath.Join(env.WorkDir, outputDir), pattern)
	if err != nil {
		return "", out, err
	}
	return artifact, out, nil
}

// newestMatch finds the most recently modified file matching pattern,
// which is the artifact this run just produced even when older builds
// left files behind.
func newestMatch(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s artifact found in %s", pattern, dir)
	}

	newest := ""
	var newestMod int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = m, mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no readable %s artifact in %s", pattern, dir)
	}
	return newest, nil
}

// Packaging is the terminal stage. It runs only after a passing test
// stage; a failure here fails the run but does not undo the recorded
// test success.
type Packaging struct {
	Packager Packager
	Kind     string
	Output   string
	Logger   *slog.Logger
}

// NewPackaging wires the packager collaborator.
func NewPackaging(packager Packager, cfg core.PackagingConfig, logger *slog.Logger) *Packaging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packaging{
		Packager: packager,
		Kind:     cfg.Kind,
		Output:   cfg.OutputDir,
		Logger:   logger.With("component", "packaging"),
	}
}

// Func returns the on-success hook the runner invokes after a green
// gated pipeline.
func (p *Packaging) Func() core.PackageFunc {
	return func(ctx context.Context, env *core.EnvironmentConfig) (string, string, error) {
		p.Logger.Info("building distributable", "kind", p.Kind)
		artifact, out, err := p.Packager.BuildDistributable(ctx, env, p.Kind, p.Output)
		if err != nil {
			return "", out, core.NewStageError(core.KindPackaging, out,
				fmt.Errorf("build distributable: %w", err))
		}
		p.Logger.Info("artifact built", "path", artifact)
		return artifact, out, nil
	}
}
