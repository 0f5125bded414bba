package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Records are stored in a directory structure: <baseDir>/results/<id>/
//
// Thread-safety: atomic file operations (temp file + rename) make concurrent
// saves and loads safe without locks.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// resultDir returns the directory path for a given result ID.
func (fs *FSStore) resultDir(id string) string {
	return filepath.Join(fs.baseDir, "results", id)
}

// recordPath returns the path to the result.json file for a result.
func (fs *FSStore) recordPath(id string) string {
	return filepath.Join(fs.resultDir(id), "result.json")
}

// Save atomically persists the record using the temp file + rename pattern.
func (fs *FSStore) Save(id string, record *Record) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}

	dir := fs.resultDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create result directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	tempPath := fs.recordPath(id) + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp record file: %w", err)
	}

	finalPath := fs.recordPath(id)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename record file: %w", err)
	}

	slog.Debug("Result saved", "id", id, "path", finalPath)
	return nil
}

// Load retrieves the record for the given result ID.
func (fs *FSStore) Load(id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("id cannot be empty")
	}

	path := fs.recordPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &NotFoundError{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat record file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}

	slog.Debug("Result loaded", "id", id, "path", path)
	return &record, nil
}

// List returns metadata for all stored results.
func (fs *FSStore) List() ([]Info, error) {
	resultsDir := filepath.Join(fs.baseDir, "results")

	if _, err := os.Stat(resultsDir); os.IsNotExist(err) {
		return []Info{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat results directory: %w", err)
	}

	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		id := entry.Name()
		if _, err := os.Stat(fs.recordPath(id)); os.IsNotExist(err) {
			continue
		}

		record, err := fs.Load(id)
		if err != nil {
			slog.Warn("Failed to load record for listing", "id", id, "error", err)
			continue
		}
		infos = append(infos, record.ToInfo())
	}

	slog.Debug("Listed results", "count", len(infos))
	return infos, nil
}

// Delete removes the record and its directory.
func (fs *FSStore) Delete(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}

	dir := fs.resultDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{ID: id}
	} else if err != nil {
		return fmt.Errorf("failed to stat result directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove result directory: %w", err)
	}

	slog.Debug("Result deleted", "id", id, "path", dir)
	return nil
}
