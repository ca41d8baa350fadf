package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"wheelsmith/internal/artifactstore"
	"wheelsmith/internal/core"
	"wheelsmith/internal/history"
	"wheelsmith/internal/pipeline"
	"wheelsmith/internal/security"
)

const defaultConfigPath = "wheelsmith.yaml"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &levelVar}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted", "error", err)
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(core.ExitCode(err))
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	logLevel := "info"

	root := &cobra.Command{
		Use:           "wheelsmith",
		Short:         "Deterministic build-test-package pipeline for native-extension packages",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log verbosity (debug, info, warn, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		levelVar.Set(level)
		return nil
	}

	root.AddCommand(
		newRunCommand(logger),
		newJournalCommand(),
		newKeygenCommand(logger),
	)
	return root
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}

func newRunCommand(logger *slog.Logger) *cobra.Command {
	var (
		configPath string
		signKey    string
		upload     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the full pipeline: normalize, deps, build, test, package",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.LoadConfig(configPath)
			if err != nil {
				return err
			}

			runner, env, err := pipeline.New(cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			run, err := runner.Execute(cmd.Context(), env)
			printSummary(cmd, run)
			if err != nil {
				return err
			}

			if signKey != "" {
				priv, err := security.LoadPrivateKey(signKey)
				if err != nil {
					return fmt.Errorf("load signing key: %w", err)
				}
				sigPath, err := security.SignArtifact(priv, run.Artifact)
				if err != nil {
					return fmt.Errorf("sign artifact: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "signature written to %s\n", sigPath)
			}

			if upload {
				key, err := uploadArtifact(cmd.Context(), run)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "artifact uploaded as %s\n", key)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Pipeline configuration file")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "Sign the artifact with this ed25519 private key file")
	cmd.Flags().BoolVar(&upload, "upload", false, "Upload the artifact to the configured object store (WHEELSMITH_S3_*)")
	return cmd
}

func uploadArtifact(ctx context.Context, run *core.Run) (string, error) {
	storeCfg, err := artifactstore.ConfigFromEnv()
	if err != nil {
		return "", err
	}
	if !storeCfg.Enabled() {
		return "", errors.New("upload requested but WHEELSMITH_S3_ENDPOINT is not set")
	}
	store, err := artifactstore.New(storeCfg)
	if err != nil {
		return "", err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return "", err
	}
	return store.Upload(ctx, run.Project, run.ID, run.Artifact)
}

func printSummary(cmd *cobra.Command, run *core.Run) {
	if run == nil {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nrun %s: %s\n", run.ID, run.Status)
	for _, res := range run.Results {
		line := fmt.Sprintf("  %-12s %s", res.Name, res.Status)
		if res.Status == core.StatusFailed && res.LogPath != "" {
			line += "  (log: " + res.LogPath + ")"
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	if run.Artifact != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "artifact: %s\n", run.Artifact)
	}
}

func newJournalCommand() *cobra.Command {
	var journalPath string

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and verify the run journal",
	}
	cmd.PersistentFlags().StringVar(&journalPath, "journal", ".wheelsmith/journal.jsonl", "Journal file path")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "List journal records",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := history.Open(journalPath)
			if err != nil {
				return err
			}
			for _, rec := range journal.Records() {
				fmt.Fprintf(cmd.OutOrStdout(), "index=%d run=%s stage=%s status=%s hash=%s\n",
					rec.Index, rec.RunID, rec.Stage, rec.Status, shortHash(rec.Hash))
			}
			return nil
		},
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify the journal's hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := history.Open(journalPath)
			if err != nil {
				return err
			}
			if err := journal.Verify(); err != nil {
				return fmt.Errorf("journal verification failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "journal verification ok (%d records)\n", journal.Len())
			return nil
		},
	}

	cmd.AddCommand(inspect, verify)
	return cmd
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

func newKeygenCommand(logger *slog.Logger) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key pair for artifact signing",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, priv, err := security.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o700); err != nil {
				return err
			}
			pubPath := filepath.Join(outDir, "signing.pub")
			privPath := filepath.Join(outDir, "signing.key")
			if err := security.SaveKeyPair(pub, priv, pubPath, privPath); err != nil {
				return err
			}
			logger.Info("key pair generated", "public", pubPath, "private", privPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", "keys", "Directory for the generated key files")
	return cmd
}
