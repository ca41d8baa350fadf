package core_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"wheelsmith/internal/core"
	"wheelsmith/internal/history"
	"wheelsmith/internal/storage"
)

func okStage(name string, ordinal int, counter *int) core.Stage {
	return core.Stage{
		Name:    name,
		Ordinal: ordinal,
		Gating:  true,
		Run: func(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
			*counter++
			return name + " output", nil
		},
	}
}

func failStage(name string, ordinal int, kind core.Kind, counter *int) core.Stage {
	return core.Stage{
		Name:    name,
		Ordinal: ordinal,
		Gating:  true,
		Run: func(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
			*counter++
			return "boom", core.Errorf(kind, "%s broke", name)
		},
	}
}

func TestGatingFailureSkipsLaterStages(t *testing.T) {
	var norm, deps, build, tests, pack int

	runner := &core.Runner{
		Project: "demo",
		Stages: []core.Stage{
			okStage("normalize", 1, &norm),
			okStage("dependencies", 2, &deps),
			failStage("build", 3, core.KindBuild, &build),
			okStage("tests", 4, &tests),
		},
		PackageName: "package",
		Package: func(ctx context.Context, env *core.EnvironmentConfig) (string, string, error) {
			pack++
			return "dist/demo.whl", "", nil
		},
	}

	run, err := runner.Execute(context.Background(), &core.EnvironmentConfig{})
	if err == nil {
		t.Fatal("expected pipeline failure")
	}
	if kind, ok := core.ErrorKind(err); !ok || kind != core.KindBuild {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if tests != 0 {
		t.Errorf("test stage ran %d times after gating failure, want 0", tests)
	}
	if pack != 0 {
		t.Errorf("packaging ran %d times after gating failure, want 0", pack)
	}
	if run.Status != core.StatusFailed {
		t.Errorf("run status = %s, want failed", run.Status)
	}

	// Every stage still has a result, with the cut-off ones skipped.
	if len(run.Results) != 4 {
		t.Fatalf("got %d results, want 4", len(run.Results))
	}
	if run.Results[3].Status != core.StatusSkipped {
		t.Errorf("tests result = %s, want skipped", run.Results[3].Status)
	}
}

func TestGreenRunPackagesExactlyOnce(t *testing.T) {
	var norm, pack int

	runner := &core.Runner{
		Project: "demo",
		Stages: []core.Stage{
			okStage("normalize", 1, &norm),
		},
		PackageName: "package",
		Package: func(ctx context.Context, env *core.EnvironmentConfig) (string, string, error) {
			pack++
			return "dist/demo.whl", "wheel built", nil
		},
	}

	run, err := runner.Execute(context.Background(), &core.EnvironmentConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pack != 1 {
		t.Errorf("packaging ran %d times, want exactly 1", pack)
	}
	if run.Status != core.StatusSucceeded {
		t.Errorf("run status = %s, want succeeded", run.Status)
	}
	if run.Artifact != "dist/demo.whl" {
		t.Errorf("artifact = %q", run.Artifact)
	}
	if core.ExitCode(err) != core.ExitOK {
		t.Errorf("exit code = %d, want 0", core.ExitCode(err))
	}
}

func TestTestFailureSkipsPackaging(t *testing.T) {
	var tests, pack int

	runner := &core.Runner{
		Project: "demo",
		Stages: []core.Stage{
			failStage("tests", 1, core.KindTestFailure, &tests),
		},
		PackageName: "package",
		Package: func(ctx context.Context, env *core.EnvironmentConfig) (string, string, error) {
			pack++
			return "dist/demo.whl", "", nil
		},
	}

	run, err := runner.Execute(context.Background(), &core.EnvironmentConfig{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if pack != 0 {
		t.Errorf("packaging ran %d times after failing tests, want 0", pack)
	}
	if run.Artifact != "" {
		t.Errorf("artifact = %q, want none", run.Artifact)
	}
	if core.ExitCode(err) != core.ExitTests {
		t.Errorf("exit code = %d, want %d", core.ExitCode(err), core.ExitTests)
	}
}

func TestPackagingFailureFailsRunButKeepsResults(t *testing.T) {
	var norm int

	runner := &core.Runner{
		Project:     "demo",
		Stages:      []core.Stage{okStage("normalize", 1, &norm)},
		PackageName: "package",
		Package: func(ctx context.Context, env *core.EnvironmentConfig) (string, string, error) {
			return "", "wheel build exploded", core.Errorf(core.KindPackaging, "bdist failed")
		},
	}

	run, err := runner.Execute(context.Background(), &core.EnvironmentConfig{})
	if err == nil {
		t.Fatal("expected packaging failure")
	}
	if core.ExitCode(err) != core.ExitPackaging {
		t.Errorf("exit code = %d, want %d", core.ExitCode(err), core.ExitPackaging)
	}
	if run.Status != core.StatusFailed {
		t.Errorf("run status = %s, want failed", run.Status)
	}
	// The passing normalize result stays recorded.
	if run.Results[0].Status != core.StatusSucceeded {
		t.Errorf("normalize result = %s, want succeeded", run.Results[0].Status)
	}
}

func TestStagesExecuteInOrdinalOrder(t *testing.T) {
	var order []string
	mk := func(name string, ordinal int) core.Stage {
		return core.Stage{
			Name: name, Ordinal: ordinal, Gating: true,
			Run: func(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
				order = append(order, name)
				return "", nil
			},
		}
	}

	runner := &core.Runner{
		Project: "demo",
		// Deliberately declared out of order.
		Stages: []core.Stage{mk("third", 3), mk("first", 1), mk("second", 2)},
	}
	if _, err := runner.Execute(context.Background(), &core.EnvironmentConfig{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"first", "second", "third"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestStageTimeoutFailsStage(t *testing.T) {
	runner := &core.Runner{
		Project:      "demo",
		StageTimeout: 20 * time.Millisecond,
		Stages: []core.Stage{{
			Name: "slow", Ordinal: 1, Gating: true,
			Run: func(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
				select {
				case <-ctx.Done():
					return "", core.NewStageError(core.KindBuild, "", ctx.Err())
				case <-time.After(5 * time.Second):
					return "", nil
				}
			},
		}},
	}

	_, err := runner.Execute(context.Background(), &core.EnvironmentConfig{})
	if err == nil {
		t.Fatal("expected timeout failure")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestRunTimeoutCancelsSlowStage(t *testing.T) {
	runner := &core.Runner{
		Project:    "demo",
		RunTimeout: 20 * time.Millisecond,
		// Per-stage limit far above the overall one, so only the run
		// deadline can fire.
		StageTimeout: time.Minute,
		Stages: []core.Stage{{
			Name: "slow", Ordinal: 1, Gating: true,
			Run: func(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
				select {
				case <-ctx.Done():
					return "", core.NewStageError(core.KindBuild, "", ctx.Err())
				case <-time.After(5 * time.Second):
					return "", nil
				}
			},
		}},
	}

	run, err := runner.Execute(context.Background(), &core.EnvironmentConfig{})
	if err == nil {
		t.Fatal("expected run-level timeout failure")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if run.Status != core.StatusFailed {
		t.Errorf("run status = %s, want failed", run.Status)
	}
}

func TestRunnerRecordsLogsAndJournal(t *testing.T) {
	dir := t.TempDir()
	journal, err := history.Open(filepath.Join(dir, "journal.jsonl"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	var norm int
	runner := &core.Runner{
		Project: "demo",
		Stages:  []core.Stage{okStage("normalize", 1, &norm)},
		Logs:    storage.NewLogStore(filepath.Join(dir, "logs")),
		Journal: journal,
	}

	run, err := runner.Execute(context.Background(), &core.EnvironmentConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Results[0].LogPath == "" {
		t.Error("expected a stage log path")
	}
	if journal.Len() != 1 {
		t.Fatalf("journal has %d records, want 1", journal.Len())
	}
	if err := journal.Verify(); err != nil {
		t.Errorf("journal verify failed: %v", err)
	}
	rec := journal.Records()[0]
	if rec.RunID != run.ID || rec.Stage != "normalize" || rec.Status != string(core.StatusSucceeded) {
		t.Errorf("unexpected journal record: %+v", rec)
	}
}

func TestNonGatingStageFailureDoesNotAbort(t *testing.T) {
	var after int
	runner := &core.Runner{
		Project: "demo",
		Stages: []core.Stage{
			{
				Name: "advisory", Ordinal: 1, Gating: false,
				Run: func(ctx context.Context, env *core.EnvironmentConfig) (string, error) {
					return "", core.Errorf(core.KindEnvironmentSetup, "advisory check failed")
				},
			},
			okStage("real", 2, &after),
		},
	}

	if _, err := runner.Execute(context.Background(), &core.EnvironmentConfig{}); err != nil {
		t.Fatalf("non-gating failure aborted the run: %v", err)
	}
	if after != 1 {
		t.Errorf("stage after non-gating failure ran %d times, want 1", after)
	}
}
