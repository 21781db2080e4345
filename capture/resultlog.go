package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/visreg/matrix"
)

// Result is the outcome of one cell.
type Result struct {
	Filename string `json:"filename"`
	Filepath string `json:"filepath"`
	URL      string `json:"url"`
	Page     string `json:"page"`
	Device   string `json:"device"`
	Category string `json:"category,omitempty"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	// DurationMS is the wall time spent on the cell.
	DurationMS int64 `json:"durationMs"`
}

// Summary counts the results of a run.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// ResultLog is the persisted record of one capture run.
type ResultLog struct {
	Mode      matrix.Mode `json:"mode"`
	Timestamp time.Time   `json:"timestamp"`
	Site      string      `json:"site"`
	Auth      string      `json:"auth"`
	Summary   Summary     `json:"summary"`
	Results   []Result    `json:"results"`
}

func summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	return s
}

// ResultLogPath is where the log of mode is written under reportsDir.
func ResultLogPath(reportsDir string, mode matrix.Mode) string {
	return filepath.Join(reportsDir, string(mode)+"-results.json")
}

// WriteResultLog stores log under reportsDir, replacing a previous log of
// the same mode.
func WriteResultLog(reportsDir string, log *ResultLog) error {
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return fmt.Errorf("capture: create reports dir: %w", err)
	}
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("capture: marshal result log: %w", err)
	}
	if err := os.WriteFile(ResultLogPath(reportsDir, log.Mode), data, 0o644); err != nil {
		return fmt.Errorf("capture: write result log: %w", err)
	}
	return nil
}

// ReadResultLog loads the log of mode from reportsDir.
func ReadResultLog(reportsDir string, mode matrix.Mode) (*ResultLog, error) {
	data, err := os.ReadFile(ResultLogPath(reportsDir, mode))
	if err != nil {
		return nil, fmt.Errorf("capture: read result log: %w", err)
	}
	var log ResultLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("capture: parse result log: %w", err)
	}
	return &log, nil
}
