// Package cleanup empties screenshot and report folders between runs and
// reports how much space they use.
package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/matrix"
)

// Target names a cleanable area.
type Target string

const (
	Before  Target = "before"
	After   Target = "after"
	Diff    Target = "diff"
	Reports Target = "reports"
	All     Target = "all"
)

// ParseTarget accepts a target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(s)); t {
	case Before, After, Diff, Reports, All:
		return t, nil
	}
	return "", fmt.Errorf("cleanup: unknown target %q (want before, after, diff, reports or all)", s)
}

// Removed counts what Clean deleted.
type Removed struct {
	Files int
	Bytes int64
}

// Clean empties the folders of target and keeps the folders themselves.
// Reports only removes rendered reports and result logs (.html, .json,
// .md); the history database stays. All covers every target.
func Clean(cfg *config.Config, target Target) (Removed, error) {
	var total Removed
	for _, t := range expand(target) {
		dir, filter := location(cfg, t)
		r, err := emptyDir(dir, filter)
		total.Files += r.Files
		total.Bytes += r.Bytes
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func expand(t Target) []Target {
	if t == All {
		return []Target{Before, After, Diff, Reports}
	}
	return []Target{t}
}

func location(cfg *config.Config, t Target) (string, func(string) bool) {
	switch t {
	case Before:
		return cfg.Paths.ModeDir(matrix.ModeBefore), nil
	case After:
		return cfg.Paths.ModeDir(matrix.ModeAfter), nil
	case Diff:
		return cfg.Paths.DiffDir(), nil
	}
	return cfg.Paths.Reports, isReportFile
}

func isReportFile(name string) bool {
	switch filepath.Ext(name) {
	case ".html", ".json", ".md":
		return true
	}
	return false
}

func emptyDir(dir string, keep func(string) bool) (Removed, error) {
	var r Removed
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return r, fmt.Errorf("cleanup: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || (keep != nil && !keep(e.Name())) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if info, err := e.Info(); err == nil {
			r.Bytes += info.Size()
		}
		if err := os.Remove(p); err != nil {
			return r, fmt.Errorf("cleanup: remove %s: %w", p, err)
		}
		r.Files++
	}
	return r, nil
}

// Usage is the content of one folder.
type Usage struct {
	Name  string `json:"name"`
	Dir   string `json:"dir"`
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
}

// Storage reports file counts and sizes of every folder.
func Storage(cfg *config.Config) ([]Usage, error) {
	var out []Usage
	for _, t := range expand(All) {
		dir, _ := location(cfg, t)
		u := Usage{Name: string(t), Dir: dir}
		entries, err := os.ReadDir(dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("cleanup: read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if info, err := e.Info(); err == nil {
				u.Files++
				u.Bytes += info.Size()
			}
		}
		out = append(out, u)
	}
	return out, nil
}

// FormatBytes renders n with a binary unit, e.g. "1.5 KB".
func FormatBytes(n int64) string {
	const k = 1024
	if n < k {
		return fmt.Sprintf("%d B", n)
	}
	units := []string{"KB", "MB", "GB", "TB"}
	v := float64(n) / k
	i := 0
	for v >= k && i < len(units)-1 {
		v /= k
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}
