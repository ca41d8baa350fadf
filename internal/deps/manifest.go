package deps

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"wheelsmith/internal/core"
)

// PackageSpec is one entry of the system-channel manifest.
type PackageSpec struct {
	Name    string
	Version string
}

// Manifest is the parsed system-channel package list.
type Manifest struct {
	Path  string
	Specs []PackageSpec
}

// ParseManifest reads a system-channel manifest: one package spec per
// line, '#' starts a comment, blank lines ignored. A package pinned
// twice with different versions is rejected before any installer runs,
// because a partial or ambiguous dependency set produces a silently
// broken build later.
func ParseManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.NewStageError(core.KindDependencyInstall, "",
			fmt.Errorf("open manifest: %w", err))
	}
	defer f.Close()

	manifest := &Manifest{Path: path}
	seen := make(map[string]string)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		spec := parseSpec(line)
		if prev, dup := seen[spec.Name]; dup {
			if prev != spec.Version {
				return nil, core.Errorf(core.KindDependencyInstall,
					"manifest %s line %d: package %q pinned twice with conflicting versions (%q vs %q)",
					path, lineNo, spec.Name, prev, spec.Version)
			}
			continue // identical duplicate, harmless
		}
		seen[spec.Name] = spec.Version
		manifest.Specs = append(manifest.Specs, spec)
	}
	if err := scanner.Err(); err != nil {
		return nil, core.NewStageError(core.KindDependencyInstall, "",
			fmt.Errorf("read manifest: %w", err))
	}
	return manifest, nil
}

// parseSpec splits "name", "name=1.2" or "name>=1.2" into name and
// version constraint.
func parseSpec(line string) PackageSpec {
	line = strings.Fields(line)[0]
	if idx := strings.IndexAny(line, "=<>!"); idx >= 0 {
		return PackageSpec{
			Name:    line[:idx],
			Version: line[idx:],
		}
	}
	return PackageSpec{Name: line}
}
