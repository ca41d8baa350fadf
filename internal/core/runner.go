package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"wheelsmith/internal/history"
	"wheelsmith/internal/storage"
	"wheelsmith/pkg/utils"
)

// Runner executes the pipeline: every gating stage strictly in ordinal
// order, then the packaging hook only if the gated part went green.
// Scheduling is deliberately sequential and single-threaded; the value
// of the pipeline is deterministic ordering, not throughput.
type Runner struct {
	Project string
	Stages  []Stage

	// RunID overrides the generated run identifier when set, so a
	// caller that hands out the ID before executing (the server) can
	// use the same one.
	RunID string

	// PackageName and Package form the on-success hook. Package runs
	// exactly once when every gating stage succeeded, never otherwise.
	PackageName string
	Package     PackageFunc

	// RunTimeout bounds the whole run, StageTimeout each stage.
	RunTimeout   time.Duration
	StageTimeout time.Duration

	Logs    *storage.LogStore
	Journal *history.Journal
	Logger  *slog.Logger

	// Out receives human-readable stage banners. Defaults to discard.
	Out io.Writer
}

// Execute runs the pipeline against the given environment snapshot.
// The returned Run always carries a result per stage, including
// skipped entries for stages cut off by a gating failure. The error is
// the first stage failure, classified as a *StageError.
func (r *Runner) Execute(ctx context.Context, env *EnvironmentConfig) (*Run, error) {
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	if r.Out == nil {
		r.Out = io.Discard
	}
	if r.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.RunTimeout)
		defer cancel()
	}

	stages := make([]Stage, len(r.Stages))
	copy(stages, r.Stages)
	sort.SliceStable(stages, func(i, j int) bool { return stages[i].Ordinal < stages[j].Ordinal })

	runID := r.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	run := &Run{
		ID:      runID,
		Project: r.Project,
		Status:  StatusRunning,
		Started: time.Now().UTC(),
		Env:     env,
	}
	r.Logger.Info("pipeline starting", "run", run.ID, "project", r.Project, "stages", len(stages))

	var failed error
	for i, stage := range stages {
		if failed != nil {
			run.Results = append(run.Results, StageResult{
				Name: stage.Name, Ordinal: stage.Ordinal, Status: StatusSkipped,
			})
			continue
		}

		fmt.Fprintf(r.Out, "==> stage %d/%d: %s\n", i+1, len(stages), stage.Name)
		result, err := r.runStage(ctx, stage, run, env)
		run.Results = append(run.Results, result)

		if err != nil && stage.Gating {
			failed = err
		}
	}

	if failed == nil && r.Package != nil {
		fmt.Fprintf(r.Out, "==> packaging: %s\n", r.PackageName)
		failed = r.runPackage(ctx, run, env)
	}

	run.Finished = time.Now().UTC()
	if failed != nil {
		run.Status = StatusFailed
		r.Logger.Error("pipeline failed", "run", run.ID, "error", failed)
		return run, failed
	}
	run.Status = StatusSucceeded
	r.Logger.Info("pipeline succeeded", "run", run.ID, "artifact", run.Artifact)
	return run, nil
}

func (r *Runner) runStage(ctx context.Context, stage Stage, run *Run, env *EnvironmentConfig) (StageResult, error) {
	timeout := stage.Timeout
	if timeout == 0 {
		timeout = r.StageTimeout
	}
	sctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	output, err := stage.Run(sctx, env)
	result := StageResult{
		Name:     stage.Name,
		Ordinal:  stage.Ordinal,
		Duration: time.Since(start),
		Status:   StatusSucceeded,
	}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err.Error()
	}

	result.LogPath = r.record(run, stage.Name, result.Status, output)
	if err != nil {
		r.Logger.Error("stage failed", "run", run.ID, "stage", stage.Name, "error", err)
	} else {
		r.Logger.Info("stage succeeded", "run", run.ID, "stage", stage.Name, "duration", result.Duration)
	}
	return result, err
}

func (r *Runner) runPackage(ctx context.Context, run *Run, env *EnvironmentConfig) error {
	sctx := ctx
	if r.StageTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, r.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	artifact, output, err := r.Package(sctx, env)
	result := StageResult{
		Name:     r.PackageName,
		Ordinal:  len(r.Stages) + 1,
		Duration: time.Since(start),
		Status:   StatusSucceeded,
	}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err.Error()
	}
	result.LogPath = r.record(run, r.PackageName, result.Status, output)
	run.Results = append(run.Results, result)

	if err != nil {
		r.Logger.Error("packaging failed", "run", run.ID, "error", err)
		return err
	}
	run.Artifact = artifact
	r.Logger.Info("packaging succeeded", "run", run.ID, "artifact", artifact)
	return nil
}

// record persists the stage's captured output and appends a journal
// entry. Both are best-effort: losing a log file must not turn a green
// build red.
func (r *Runner) record(run *Run, stage string, status Status, output string) string {
	var logPath string
	if r.Logs != nil {
		path, err := r.Logs.SaveStageLog(run.ID, stage, output)
		if err != nil {
			r.Logger.Warn("cannot save stage log", "stage", stage, "error", err)
		} else {
			logPath = path
		}
	}
	if r.Journal != nil {
		_, err := r.Journal.Append(history.Record{
			RunID:   run.ID,
			Stage:   stage,
			Status:  string(status),
			LogPath: logPath,
			LogHash: utils.HashString(output),
		})
		if err != nil {
			r.Logger.Warn("cannot append journal record", "stage", stage, "error", err)
		}
	}
	return logPath
}
