// Package artifact writes pipeline outputs as indented JSON files, one
// directory per run version plus a "latest" copy.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Well-known artifact file names.
const (
	ClusteringResultFile = "clustering-result.json"
	AssignmentsFile      = "assignments.json"
	ClustersFile         = "clusters.json"
	ExtractionResultFile = "extraction-result.json"
	CandidatesFile       = "candidates.json"
	StatsFile            = "stats.json"

	// LatestDir mirrors the most recent run.
	LatestDir = "latest"
)

// Writer writes versioned artifact sets under Root.
type Writer struct {
	Root string
}

// NewWriter returns a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{Root: dir}
}

// VersionDir is the directory a version's files are written to.
func (w *Writer) VersionDir(version string) string {
	return filepath.Join(w.Root, version)
}

// Write writes every file into the version directory and again into the
// latest directory. Files are written in name order. Returns the paths
// written under the version directory.
func (w *Writer) Write(version string, files map[string]interface{}) ([]string, error) {
	if err := validVersion(version); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var written []string
	for _, dir := range []string{w.VersionDir(version), filepath.Join(w.Root, LatestDir)} {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if err := WriteJSON(path, files[name]); err != nil {
				return written, err
			}
			if dir == w.VersionDir(version) {
				written = append(written, path)
			}
		}
	}
	return written, nil
}

// Read decodes one file from a version directory into v.
func (w *Writer) Read(version, name string, v interface{}) error {
	return ReadJSON(filepath.Join(w.VersionDir(version), name), v)
}

func validVersion(v string) error {
	if v == "" {
		return fmt.Errorf("artifact version is required")
	}
	if v == LatestDir || v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
		return fmt.Errorf("invalid artifact version %q", v)
	}
	return nil
}

// WriteJSON writes v as indented JSON, creating parent directories. The file
// is written to a temp name and renamed into place.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
