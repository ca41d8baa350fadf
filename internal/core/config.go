package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config values can be written as
// "20m" or "1h" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the pipeline configuration loaded from wheelsmith.yaml.
type Config struct {
	// Project is a display name used in logs and journal records.
	Project string `yaml:"project"`
	// WorkDir is the repository checkout the pipeline operates on.
	WorkDir string `yaml:"workdir"`
	// Interpreter selects the interpreter for every interpreter-driven
	// stage. Leaving it empty defers to whatever PATH resolves, which
	// on shared runners is exactly the mismatch this tool exists to
	// avoid, so Validate requires it.
	Interpreter string `yaml:"interpreter"`
	// SearchPath entries are prepended to the host PATH, first entry
	// winning.
	SearchPath []string `yaml:"search_path"`
	// Env holds extra environment variables for every stage.
	Env map[string]string `yaml:"env"`
	// Symlinks enables materializing symbolic links as real links in
	// the working tree.
	Symlinks bool `yaml:"symlinks"`

	Timeouts     TimeoutConfig    `yaml:"timeouts"`
	Dependencies DependencyConfig `yaml:"dependencies"`
	Tests        TestConfig       `yaml:"tests"`
	Packaging    PackagingConfig  `yaml:"packaging"`

	// LogsDir receives one captured-output file per stage per run.
	LogsDir string `yaml:"logs_dir"`
	// JournalPath is the append-only run journal.
	JournalPath string `yaml:"journal"`
}

// TimeoutConfig bounds the whole run and each individual stage.
type TimeoutConfig struct {
	Run   Duration `yaml:"run"`
	Stage Duration `yaml:"stage"`
}

// DependencyConfig describes the two install channels. A package
// belongs to exactly one channel; the system channel always installs
// first so native shared-library prerequisites exist before the
// language-level installer runs.
type DependencyConfig struct {
	// SystemManifest is the manifest file consumed by the system-level
	// package manager.
	SystemManifest string `yaml:"system_manifest"`
	// LanguagePackages are installed by the language-level installer
	// after the system channel completes.
	LanguagePackages []string `yaml:"language_packages"`
}

// TestConfig configures the test runner invocation.
type TestConfig struct {
	Verbose bool `yaml:"verbose"`
	// Command overrides the default test-runner module name.
	Command string `yaml:"command"`
}

// PackagingConfig configures the distributable build.
type PackagingConfig struct {
	// Kind selects the artifact flavor; "binary" builds a wheel.
	Kind string `yaml:"kind"`
	// OutputDir is where the packager drops artifacts, relative to
	// the working directory.
	OutputDir string `yaml:"output_dir"`
}

// LoadConfig reads and validates a pipeline configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate fills defaults and rejects configurations the pipeline
// cannot run deterministically.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project name is required")
	}
	if c.Interpreter == "" {
		return fmt.Errorf("interpreter path is required")
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.Timeouts.Run == 0 {
		c.Timeouts.Run = Duration(60 * time.Minute)
	}
	if c.Timeouts.Stage == 0 {
		c.Timeouts.Stage = Duration(20 * time.Minute)
	}
	if time.Duration(c.Timeouts.Stage) > time.Duration(c.Timeouts.Run) {
		return fmt.Errorf("stage timeout %s exceeds run timeout %s",
			time.Duration(c.Timeouts.Stage), time.Duration(c.Timeouts.Run))
	}
	if c.Packaging.Kind == "" {
		c.Packaging.Kind = "binary"
	}
	if c.Packaging.Kind != "binary" && c.Packaging.Kind != "source" {
		return fmt.Errorf("unknown packaging kind %q", c.Packaging.Kind)
	}
	if c.Packaging.OutputDir == "" {
		c.Packaging.OutputDir = "dist"
	}
	if c.LogsDir == "" {
		c.LogsDir = ".wheelsmith/logs"
	}
	if c.JournalPath == "" {
		c.JournalPath = ".wheelsmith/journal.jsonl"
	}
	return nil
}
