// Package history keeps an append-only, hash-chained journal of stage
// outcomes. Each record links to its predecessor, so the recorded
// result of a CI run is tamper-evident after the fact.
package history

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one journal entry: the outcome of a single stage within a
// run, chained to the previous entry by hash.
type Record struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	RunID     string `json:"runId"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	LogPath   string `json:"logPath,omitempty"`
	LogHash   string `json:"logHash"`
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
}

// canonicalData returns the JSON bytes the record hash is computed
// over. Hash itself is excluded.
func (r *Record) canonicalData() ([]byte, error) {
	view := struct {
		Index     int    `json:"index"`
		Timestamp string `json:"timestamp"`
		RunID     string `json:"runId"`
		Stage     string `json:"stage"`
		Status    string `json:"status"`
		LogPath   string `json:"logPath,omitempty"`
		LogHash   string `json:"logHash"`
		PrevHash  string `json:"prevHash"`
	}{
		Index:     r.Index,
		Timestamp: r.Timestamp,
		RunID:     r.RunID,
		Stage:     r.Stage,
		Status:    r.Status,
		LogPath:   r.LogPath,
		LogHash:   r.LogHash,
		PrevHash:  r.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates sha256 over the canonical record fields.
func (r *Record) ComputeHash() (string, error) {
	data, err := r.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Journal is an append-only JSONL file plus its in-memory view.
type Journal struct {
	mu      sync.Mutex
	records []*Record
	path    string
}

// Open loads an existing journal or starts an empty one at path,
// creating parent directories as needed.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return j, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		j.records = append(j.records, &rec)
	}
	return j, nil
}

// Append chains rec onto the journal, fills the derived fields
// (index, timestamp, prev hash, hash), persists it and keeps it in
// memory. The caller supplies RunID, Stage, Status, LogPath, LogHash.
func (j *Journal) Append(rec Record) (*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec.Index = len(j.records)
	rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	rec.PrevHash = ""
	if len(j.records) > 0 {
		rec.PrevHash = j.records[len(j.records)-1].Hash
	}

	h, err := rec.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute record hash: %w", err)
	}
	rec.Hash = h

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(&rec); err != nil {
		return nil, fmt.Errorf("write journal: %w", err)
	}

	j.records = append(j.records, &rec)
	return &rec, nil
}

// Verify recomputes every record hash and chain link.
func (j *Journal) Verify() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i, rec := range j.records {
		h, err := rec.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", rec.Index, err)
		}
		if h != rec.Hash {
			return fmt.Errorf("hash mismatch at index %d", rec.Index)
		}
		if i > 0 && rec.PrevHash != j.records[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at index %d", rec.Index)
		}
		if rec.Index != i {
			return fmt.Errorf("index mismatch: expected %d, got %d", i, rec.Index)
		}
	}
	return nil
}

// Records returns the in-memory view. Callers must treat it as
// read-only.
func (j *Journal) Records() []*Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records
}

// Len returns the number of records.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}
