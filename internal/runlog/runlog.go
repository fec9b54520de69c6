// Package runlog persists per-image OCR results as JSON and summarizes them
// per engine.
//
// A log maps a category (usually the input directory) to file names, and
// each file to the engine results recorded for it.
package runlog

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
	"github.com/MeKo-Tech/ocrcascade/internal/pipeline"
)

// BackupTimeFormat is appended to the base name of timestamped backups.
const BackupTimeFormat = "20060102_150405"

// Entry is everything recorded for one image.
type Entry struct {
	Engines  map[string]engine.EngineResult `json:"engines,omitempty"`
	Pipeline *pipeline.Result               `json:"pipeline,omitempty"`
	Race     *pipeline.RaceResult           `json:"race,omitempty"`
	Error    string                         `json:"error,omitempty"`
}

// Log is keyed by category, then by file name.
type Log map[string]map[string]Entry

// Add records entry for file under category.
func (l Log) Add(category, file string, entry Entry) {
	files, ok := l[category]
	if !ok {
		files = make(map[string]Entry)
		l[category] = files
	}
	files[file] = entry
}

// Categories returns the category names in sorted order.
func (l Log) Categories() []string {
	return slices.Sorted(maps.Keys(l))
}

// Len returns the number of recorded files.
func (l Log) Len() int {
	n := 0
	for _, files := range l {
		n += len(files)
	}
	return n
}

// Save writes l to path as indented JSON, creating parent directories. When
// timestamped is set a copy is also written next to path with the current
// time appended to its name; its path is returned.
func Save(l Log, path string, timestamped bool) (string, error) {
	return saveAt(l, path, timestamped, time.Now())
}

func saveAt(l Log, path string, timestamped bool, now time.Time) (string, error) {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write run log: %w", err)
	}
	if !timestamped {
		return "", nil
	}
	backup := BackupPath(path, now)
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write run log backup: %w", err)
	}
	return backup, nil
}

// BackupPath returns the timestamped sibling of path.
func BackupPath(path string, at time.Time) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + at.Format(BackupTimeFormat) + ".json"
}

// Load reads a log written by Save.
func Load(path string) (Log, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: log path is user input
	if err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}
	var l Log
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse run log %s: %w", path, err)
	}
	if l == nil {
		l = Log{}
	}
	return l, nil
}
