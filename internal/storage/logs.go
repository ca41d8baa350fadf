// Package storage persists the captured output of pipeline stages so a
// failing run leaves its evidence on disk after the process exits.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogStore writes one log file per stage under a run-scoped directory.
type LogStore struct {
	BaseDir string
}

// NewLogStore creates a log store rooted at baseDir.
func NewLogStore(baseDir string) *LogStore {
	return &LogStore{BaseDir: baseDir}
}

// SaveStageLog writes the captured output of one stage and returns the
// file path. Files land under <base>/<runID>/ with a timestamp so
// repeated stages within one run never collide.
func (ls *LogStore) SaveStageLog(runID, stage, output string) (string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	timestamp := time.Now().UTC().Format("20060102_150405.000")
	filename := fmt.Sprintf("%s_%s.log", sanitize(stage), timestamp)
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// sanitize strips characters that are unsafe in filenames, notably on
// Windows runners where colons and slashes are fatal.
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '-', r == '_':
			clean = append(clean, r)
		default:
			clean = append(clean, '_')
		}
	}
	if len(clean) == 0 {
		return "stage"
	}
	return string(clean)
}
