package core

import (
	"os"
	"sort"
	"strings"
)

// EnvironmentConfig is the environment snapshot a run executes against.
// The Environment Normalizer is the only writer; every later stage
// receives it read-only, so there is no cross-stage mutation to reason
// about.
type EnvironmentConfig struct {
	// WorkDir is the root of the repository checkout.
	WorkDir string
	// Interpreter is the absolute path of the selected interpreter,
	// used for every interpreter-driven stage.
	Interpreter string
	// SearchPath is the fully composed PATH value for the run.
	SearchPath string
	// Vars holds extra variables layered over the host environment.
	Vars map[string]string
	// SymlinksEnabled records whether the working tree materializes
	// symbolic links as real links.
	SymlinksEnabled bool
}

// Environ renders the host environment with the run's overrides
// applied. PATH is replaced by the composed search path when one was
// set.
func (e *EnvironmentConfig) Environ() []string {
	overrides := make(map[string]string, len(e.Vars)+1)
	for k, v := range e.Vars {
		overrides[k] = v
	}
	if e.SearchPath != "" {
		overrides["PATH"] = e.SearchPath
	}

	environ := os.Environ()
	out := make([]string, 0, len(environ)+len(overrides))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[name]; replaced {
			continue
		}
		out = append(out, kv)
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, name+"="+overrides[name])
	}
	return out
}

// Clone returns an independent copy, used by tests to compare the
// snapshots produced by repeated normalization.
func (e *EnvironmentConfig) Clone() *EnvironmentConfig {
	dup := *e
	dup.Vars = make(map[string]string, len(e.Vars))
	for k, v := range e.Vars {
		dup.Vars[k] = v
	}
	return &dup
}
