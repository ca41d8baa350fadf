package core

import (
	"context"
	"time"
)

// Status tracks a run or a single stage through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StageFunc does the actual work of a stage. It returns the captured
// output of the external commands it ran; on failure the error is a
// *StageError carrying the classification.
type StageFunc func(ctx context.Context, env *EnvironmentConfig) (string, error)

// Stage is one gated unit of pipeline work.
type Stage struct {
	// Name identifies the stage in logs, journal records and results.
	Name string
	// Ordinal is the stage's position; stages execute strictly in
	// ordinal order.
	Ordinal int
	// Gating marks a stage whose failure aborts all later stages.
	Gating bool
	// Timeout overrides the configured per-stage timeout when nonzero.
	Timeout time.Duration
	// Run performs the stage's work.
	Run StageFunc
}

// PackageFunc builds the distributable and returns its path plus
// captured output. It is the on-success hook, not an ordinary stage
// member, so it has its own signature.
type PackageFunc func(ctx context.Context, env *EnvironmentConfig) (artifact string, output string, err error)

// StageResult records one stage's outcome inside a Run.
type StageResult struct {
	Name     string        `json:"name"`
	Ordinal  int           `json:"ordinal"`
	Status   Status        `json:"status"`
	LogPath  string        `json:"logPath,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Run is one pipeline execution attempt: the environment snapshot it
// ran against, the ordered stage results, and the terminal status.
// Nothing about a Run outlives the process except the journal records
// and the artifact.
type Run struct {
	ID       string        `json:"id"`
	Project  string        `json:"project"`
	Status   Status        `json:"status"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Results  []StageResult `json:"results"`
	Artifact string        `json:"artifact,omitempty"`

	// Env is the snapshot established by the normalizer.
	Env *EnvironmentConfig `json:"-"`
}

// FailedStage returns the result of the stage that failed the run, or
// nil for a green run.
func (r *Run) FailedStage() *StageResult {
	for i := range r.Results {
		if r.Results[i].Status == StatusFailed {
			return &r.Results[i]
		}
	}
	return nil
}
