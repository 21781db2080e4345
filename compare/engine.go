// Package compare computes per-pair pixel differences between the "before"
// and "after" screenshot sets, classifies their severity and aggregates
// run-wide statistics.
package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/visreg/matrix"
)

// ErrDimensionMismatch is recorded when the two screenshots of a pair do
// not share the same size.
var ErrDimensionMismatch = errors.New("image dimensions differ")

// Dimensions is the pixel size of a compared pair.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result is the comparison of one filename present in both sets.
type Result struct {
	Filename       string     `json:"filename"`
	Page           string     `json:"page"`
	Device         string     `json:"device"`
	Category       string     `json:"category,omitempty"`
	BeforePath     string     `json:"beforePath"`
	AfterPath      string     `json:"afterPath"`
	DiffPath       string     `json:"diffPath,omitempty"`
	PixelDiff      int        `json:"pixelDiff"`
	TotalPixels    int        `json:"totalPixels"`
	DiffPercentage float64    `json:"diffPercentage"`
	// Severity is only meaningful when Success is set; it is left out of
	// the JSON form otherwise.
	Severity       Severity   `json:"severity"`
	Passed         bool       `json:"passed"`
	Dimensions     Dimensions `json:"dimensions"`
	Success        bool       `json:"success"`
	Error          string     `json:"error,omitempty"`
}

// MarshalJSON drops severity from pairs that could not be compared.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	if r.Success {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		plain
		Severity *Severity `json:"severity,omitempty"`
	}{plain: plain(r)})
}

// Run is the outcome of comparing two screenshot sets.
type Run struct {
	Results []Result   `json:"results"`
	Stats   Statistics `json:"stats"`
}

// Options configures an Engine.
type Options struct {
	BeforeDir string
	AfterDir  string
	DiffDir   string
	Diff      DiffOptions
	Logger    *slog.Logger
}

// Engine compares screenshot sets.
type Engine struct {
	opts Options
	log  *slog.Logger
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Diff == (DiffOptions{}) {
		opts.Diff = DefaultDiffOptions()
	}
	return &Engine{opts: opts, log: opts.Logger}
}

// DiffFilename is the diff image name of a screenshot.
func DiffFilename(filename string) string {
	return "diff-" + strings.TrimSuffix(filename, filepath.Ext(filename)) + ".png"
}

// CompareAll compares every image file present in both directories. Files
// present on one side only are skipped. No matching pair at all yields an
// empty run, not an error.
func (e *Engine) CompareAll(ctx context.Context) (*Run, error) {
	if err := os.MkdirAll(e.opts.DiffDir, 0o755); err != nil {
		return nil, fmt.Errorf("compare: create diff dir: %w", err)
	}

	before, err := listImages(e.opts.BeforeDir)
	if err != nil {
		return nil, err
	}
	after, err := listImages(e.opts.AfterDir)
	if err != nil {
		return nil, err
	}
	matching := intersect(before, after)

	run := &Run{Results: make([]Result, 0, len(matching)), Stats: NewStatistics()}
	if len(matching) == 0 {
		e.log.Warn("compare: no matching screenshot pairs",
			"before", len(before), "after", len(after))
		return run, nil
	}

	idx, err := matrix.ReadIndex(e.opts.AfterDir)
	if err != nil {
		e.log.Warn("compare: after index unreadable, falling back to filenames", "error", err)
		idx = matrix.Index{}
	}
	if bidx, err := matrix.ReadIndex(e.opts.BeforeDir); err == nil {
		idx.Merge(bidx)
	}

	e.log.Info("compare: comparing screenshot pairs", "pairs", len(matching))
	start := time.Now()
	for _, name := range matching {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("compare: %w", err)
		}
		r, err := e.ComparePair(name, idx.Lookup(name))
		if err != nil {
			return nil, err
		}
		run.Results = append(run.Results, r)
		run.Stats.Add(r)
	}
	e.log.Info("compare: done",
		"total", run.Stats.Total, "passed", run.Stats.Passed,
		"failed", run.Stats.Failed, "errors", run.Stats.Errors,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return run, nil
}

// ComparePair compares one filename. Decode and dimension problems are
// recorded in the result; only a failure to write the diff image is
// returned as an error.
func (e *Engine) ComparePair(filename string, id matrix.IndexEntry) (Result, error) {
	r := Result{
		Filename:   filename,
		Page:       id.Page,
		Device:     id.Device,
		Category:   id.Category,
		BeforePath: filepath.Join(e.opts.BeforeDir, filename),
		AfterPath:  filepath.Join(e.opts.AfterDir, filename),
	}

	a, err := loadNRGBA(r.BeforePath)
	if err != nil {
		r.Error = fmt.Sprintf("before: %v", err)
		e.log.Warn("compare: pair failed", "file", filename, "error", r.Error)
		return r, nil
	}
	b, err := loadNRGBA(r.AfterPath)
	if err != nil {
		r.Error = fmt.Sprintf("after: %v", err)
		e.log.Warn("compare: pair failed", "file", filename, "error", r.Error)
		return r, nil
	}

	w, h := a.Rect.Dx(), a.Rect.Dy()
	if bw, bh := b.Rect.Dx(), b.Rect.Dy(); bw != w || bh != h {
		r.Error = fmt.Errorf("%w: before %dx%d vs after %dx%d", ErrDimensionMismatch, w, h, bw, bh).Error()
		e.log.Warn("compare: pair failed", "file", filename, "error", r.Error)
		return r, nil
	}

	count, diffImg := Diff(a, b, e.opts.Diff)
	r.DiffPath = filepath.Join(e.opts.DiffDir, DiffFilename(filename))
	if err := savePNG(r.DiffPath, diffImg); err != nil {
		return r, fmt.Errorf("compare: write diff %s: %w", r.DiffPath, err)
	}

	r.Success = true
	r.Dimensions = Dimensions{Width: w, Height: h}
	r.PixelDiff = count
	r.TotalPixels = w * h
	if r.TotalPixels > 0 {
		r.DiffPercentage = 100 * float64(count) / float64(r.TotalPixels)
	}
	r.Severity = Classify(r.DiffPercentage)
	r.Passed = Passed(r.DiffPercentage)

	e.log.Debug("compare: pair compared", "file", filename,
		"diff_pct", r.DiffPercentage, "severity", r.Severity, "passed", r.Passed)
	return r, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("compare: read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && isImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, n := range b {
		in[n] = true
	}
	var out []string
	for _, n := range a {
		if in[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
