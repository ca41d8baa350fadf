// Package pipeline assembles the runner from the configuration: the
// exec-backed collaborators, the five stages in their fixed order, and
// the log/journal sinks. Both the CLI and the server build their
// pipelines here so a triggered run and a local run behave the same.
package pipeline

import (
	"io"
	"log/slog"
	"time"

	"wheelsmith/internal/core"
	"wheelsmith/internal/deps"
	"wheelsmith/internal/envprep"
	"wheelsmith/internal/history"
	"wheelsmith/internal/stages"
	"wheelsmith/internal/storage"
)

// New builds a ready-to-execute Runner plus the environment snapshot
// the normalizer stage will fill. Out receives stage banners; pass nil
// to silence them.
func New(cfg *core.Config, logger *slog.Logger, out io.Writer) (*core.Runner, *core.EnvironmentConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	exec := core.NewExecutor()

	journal, err := history.Open(cfg.JournalPath)
	if err != nil {
		return nil, nil, err
	}

	normalizer := envprep.New(envprep.NewGitRepository(exec), logger)
	installer := deps.NewInstaller(
		&deps.CondaInstaller{Exec: exec},
		&deps.PipInstaller{Exec: exec},
		logger,
	)
	build := stages.NewBuild(&stages.SetupToolchain{Exec: exec}, logger)
	tests := stages.NewTests(
		&stages.ModuleTestRunner{Exec: exec, Module: cfg.Tests.Command},
		stages.TestOptions{Verbose: cfg.Tests.Verbose, Capture: true},
		logger,
	)
	packaging := stages.NewPackaging(&stages.SetupPackager{Exec: exec}, cfg.Packaging, logger)

	runner := &core.Runner{
		Project: cfg.Project,
		Stages: []core.Stage{
			normalizer.Stage(cfg, 1),
			installer.Stage(cfg, 2),
			build.Stage(3),
			tests.Stage(4),
		},
		PackageName:  "package",
		Package:      packaging.Func(),
		RunTimeout:   time.Duration(cfg.Timeouts.Run),
		StageTimeout: time.Duration(cfg.Timeouts.Stage),
		Logs:         storage.NewLogStore(cfg.LogsDir),
		Journal:      journal,
		Logger:       logger,
		Out:          out,
	}

	env := &core.EnvironmentConfig{WorkDir: cfg.WorkDir}
	return runner, env, nil
}
