// The server exposes the pipeline over HTTP for CI integrations that
// trigger runs remotely: one endpoint to start a run, one to poll its
// status, one to fetch the failing stage's log, and one to verify the
// journal. Runs are single-flight — the pipeline is sequential by
// design, so a second trigger while one is executing gets 409.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"wheelsmith/internal/core"
	"wheelsmith/internal/history"
	"wheelsmith/internal/pipeline"
)

type server struct {
	mu      sync.Mutex
	running bool
	runs    map[string]*core.Run

	cfgPath string
	logger  *slog.Logger
}

func newServer(cfgPath string, logger *slog.Logger) *server {
	return &server{
		runs:    make(map[string]*core.Run),
		cfgPath: cfgPath,
		logger:  logger,
	}
}

func main() {
	cfgPath := flag.String("config", "wheelsmith.yaml", "pipeline configuration file")
	addr := flag.String("addr", "", "listen address (defaults to :$PORT or :8080)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	listen := *addr
	if listen == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		listen = ":" + port
	}

	s := newServer(*cfgPath, logger)

	logger.Info("wheelsmith server listening", "addr", listen, "config", *cfgPath)
	if err := http.ListenAndServe(listen, s.routes()); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/runs", s.handleTriggerRun)
	r.Get("/runs/{id}", s.handleRunStatus)
	r.Get("/runs/{id}/log", s.handleRunLog)
	r.Get("/journal/verify", s.handleVerifyJournal)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// snapshotRun copies the run's current state under the lock, so handlers
// never read fields concurrently with execute()'s status updates.
func (s *server) snapshotRun(id string) (core.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return core.Run{}, false
	}
	return *run, true
}

// handleTriggerRun starts a pipeline run in the background and returns
// its ID immediately.
func (s *server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	cfg, err := core.LoadConfig(s.cfgPath)
	if err != nil {
		http.Error(w, "invalid pipeline config: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "a run is already executing", http.StatusConflict)
		return
	}
	id := uuid.NewString()
	s.running = true
	s.runs[id] = &core.Run{ID: id, Project: cfg.Project, Status: core.StatusPending}
	s.mu.Unlock()

	go s.execute(id, cfg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id, "status": string(core.StatusPending)})
}

func (s *server) execute(id string, cfg *core.Config) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	runner, env, err := pipeline.New(cfg, s.logger, nil)
	if err != nil {
		s.logger.Error("cannot assemble pipeline", "run", id, "error", err)
		s.mu.Lock()
		s.runs[id].Status = core.StatusFailed
		s.mu.Unlock()
		return
	}
	runner.RunID = id

	s.mu.Lock()
	s.runs[id].Status = core.StatusRunning
	s.mu.Unlock()

	run, err := runner.Execute(context.Background(), env)
	if err != nil {
		s.logger.Error("run failed", "run", id, "error", err, "exitCode", core.ExitCode(err))
	}

	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()
}

func (s *server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := s.snapshotRun(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// handleRunLog serves the captured output of the stage that failed the
// run, which is the only output a triage needs first.
func (s *server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	run, ok := s.snapshotRun(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	failed := run.FailedStage()
	if failed == nil || failed.LogPath == "" {
		http.Error(w, "no failing stage log for this run", http.StatusNotFound)
		return
	}
	data, err := os.ReadFile(failed.LogPath)
	if err != nil {
		http.Error(w, "cannot read log: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "stage %s (%s)\n\n", failed.Name, failed.Status)
	w.Write(data)
}

func (s *server) handleVerifyJournal(w http.ResponseWriter, r *http.Request) {
	cfg, err := core.LoadConfig(s.cfgPath)
	if err != nil {
		http.Error(w, "invalid pipeline config: "+err.Error(), http.StatusInternalServerError)
		return
	}
	journal, err := history.Open(cfg.JournalPath)
	if err != nil {
		http.Error(w, "cannot open journal: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := journal.Verify(); err != nil {
		http.Error(w, "journal verification failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintf(w, "journal verification ok (%d records)\n", journal.Len())
}
