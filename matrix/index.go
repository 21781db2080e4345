package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// IndexFile is the sidecar written next to the screenshots of a mode.
const IndexFile = "index.json"

// IndexEntry is the explicit identity of one screenshot file.
type IndexEntry struct {
	Page     string `json:"page"`
	Device   string `json:"device"`
	Category string `json:"category,omitempty"`
}

// Index maps screenshot filenames to their identity, so consumers never
// need to re-parse filenames.
type Index map[string]IndexEntry

// Add records a cell under its filename.
func (idx Index) Add(filename string, c Cell) {
	idx[filename] = IndexEntry{Page: c.Page.Name, Device: c.Device.Name, Category: c.Page.Category}
}

// Lookup resolves a filename, falling back to SplitFilename.
func (idx Index) Lookup(filename string) IndexEntry {
	if e, ok := idx[filename]; ok {
		return e
	}
	page, device := SplitFilename(filename)
	return IndexEntry{Page: page, Device: device}
}

// Merge copies entries of other that idx does not have.
func (idx Index) Merge(other Index) {
	for k, v := range other {
		if _, ok := idx[k]; !ok {
			idx[k] = v
		}
	}
}

// ReadIndex loads the sidecar of dir. A missing sidecar is an empty index.
func ReadIndex(dir string) (Index, error) {
	data, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return Index{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("matrix: read index: %w", err)
	}
	idx := Index{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("matrix: parse index: %w", err)
	}
	return idx, nil
}

// WriteIndex stores idx as the sidecar of dir, merging with an existing
// one so a partial run keeps identities of earlier captures.
func WriteIndex(dir string, idx Index) error {
	prev, err := ReadIndex(dir)
	if err != nil {
		prev = Index{}
	}
	for k, v := range idx {
		prev[k] = v
	}
	data, err := json.MarshalIndent(prev, "", "  ")
	if err != nil {
		return fmt.Errorf("matrix: marshal index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, IndexFile), data, 0o644); err != nil {
		return fmt.Errorf("matrix: write index: %w", err)
	}
	return nil
}
