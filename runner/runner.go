// Package runner sequences the visreg phases (capture before, capture
// after, compare, report) and turns them into a single outcome.
package runner

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/visreg/capture"
	"github.com/hazyhaar/visreg/compare"
	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/history"
	"github.com/hazyhaar/visreg/matrix"
	"github.com/hazyhaar/visreg/report"
)

// Phase is one step of the pipeline.
type Phase string

const (
	PhaseCaptureBefore Phase = "capture-before"
	PhaseCaptureAfter  Phase = "capture-after"
	PhaseCompare       Phase = "compare"
	PhaseReport        Phase = "report"
)

// Phases lists every phase in pipeline order.
var Phases = []Phase{PhaseCaptureBefore, PhaseCaptureAfter, PhaseCompare, PhaseReport}

// ParsePhase accepts a phase name.
func ParsePhase(s string) (Phase, error) {
	for _, p := range Phases {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("runner: unknown phase %q", s)
}

// CapturePhase returns the capture phase of mode.
func CapturePhase(mode matrix.Mode) Phase {
	if mode == matrix.ModeAfter {
		return PhaseCaptureAfter
	}
	return PhaseCaptureBefore
}

// Options configures a Runner.
type Options struct {
	Config *config.Config
	// Suite selects the pages to capture. Empty = homepage only.
	Suite string
	// Open starts browser sessions. Nil = Chrome through Rod.
	Open capture.Opener
	// History records phase runs when set.
	History *history.Store
	Logger  *slog.Logger
	Now     func() time.Time
}

// PhaseResult is the record of one executed phase.
type PhaseResult struct {
	Phase    Phase         `json:"phase"`
	RunID    string        `json:"runId,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Outcome summarizes a Run.
type Outcome struct {
	Phases      []PhaseResult
	CaptureLogs map[matrix.Mode]*capture.ResultLog
	// Comparison is set by the compare and report phases.
	Comparison *compare.Run
	// Failed is true when a phase hit a fatal error.
	Failed bool
}

// Exit codes of the CLI.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitChanges = 2
)

// ExitCode maps the outcome onto a process exit code. Changes only fail
// the process when failOnChanges is set.
func (o *Outcome) ExitCode(failOnChanges bool) int {
	if o == nil || o.Failed {
		return ExitFatal
	}
	if failOnChanges && o.Comparison != nil && o.Comparison.Stats.HasChanges() {
		return ExitChanges
	}
	return ExitOK
}

// Runner executes phases against one configuration.
type Runner struct {
	cfg   *config.Config
	suite string
	open  capture.Opener
	hist  *history.Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Open == nil {
		opts.Open = capture.RodOpener(opts.Config, opts.Logger)
	}
	return &Runner{
		cfg:   opts.Config,
		suite: opts.Suite,
		open:  opts.Open,
		hist:  opts.History,
		log:   opts.Logger,
		now:   opts.Now,
	}
}

// Run executes phases in the given order and stops at the first fatal
// error, which is also returned.
func (r *Runner) Run(ctx context.Context, phases ...Phase) (*Outcome, error) {
	out := &Outcome{CaptureLogs: map[matrix.Mode]*capture.ResultLog{}}
	for _, p := range phases {
		start := r.now()
		rec, err := r.runPhase(ctx, p, out)
		pr := PhaseResult{Phase: p, Duration: r.now().Sub(start)}
		if err != nil {
			pr.Error = err.Error()
			rec.Status = history.StatusFailed
			rec.Error = err.Error()
		}
		rec.Phase, rec.Site, rec.Suite = string(p), r.cfg.Site, r.suite
		rec.StartedAt, rec.FinishedAt = start, start.Add(pr.Duration)
		pr.RunID = r.record(ctx, rec, out, p)
		out.Phases = append(out.Phases, pr)

		if err != nil {
			out.Failed = true
			r.log.Error("runner: phase failed", "phase", p, "error", err)
			return out, err
		}
		r.log.Info("runner: phase done", "phase", p, "duration", pr.Duration.Round(time.Millisecond))
	}
	return out, nil
}

func (r *Runner) runPhase(ctx context.Context, p Phase, out *Outcome) (history.Run, error) {
	switch p {
	case PhaseCaptureBefore:
		return r.capture(ctx, matrix.ModeBefore, out)
	case PhaseCaptureAfter:
		return r.capture(ctx, matrix.ModeAfter, out)
	case PhaseCompare:
		return r.compare(ctx, out)
	case PhaseReport:
		return r.rerender(out)
	}
	return history.Run{}, fmt.Errorf("runner: unknown phase %q", p)
}

func (r *Runner) capture(ctx context.Context, mode matrix.Mode, out *Outcome) (history.Run, error) {
	m, err := r.cfg.Matrix(r.suite)
	if err != nil {
		return history.Run{}, err
	}
	o := capture.New(capture.Options{Config: r.cfg, Open: r.open, Logger: r.log, Now: r.now})
	log, err := o.Run(ctx, mode, m)
	if log != nil {
		out.CaptureLogs[mode] = log
	}
	rec := history.Run{Status: history.StatusOK}
	if log != nil {
		rec.Total, rec.Passed, rec.Failed = log.Summary.Total, log.Summary.Successful, log.Summary.Failed
	}
	return rec, err
}

func (r *Runner) compare(ctx context.Context, out *Outcome) (history.Run, error) {
	eng := compare.New(compare.Options{
		BeforeDir: r.cfg.Paths.ModeDir(matrix.ModeBefore),
		AfterDir:  r.cfg.Paths.ModeDir(matrix.ModeAfter),
		DiffDir:   r.cfg.Paths.DiffDir(),
		Diff:      DiffOptions(r.cfg.Comparison),
		Logger:    r.log,
	})
	run, err := eng.CompareAll(ctx)
	if err != nil {
		return history.Run{}, err
	}
	out.Comparison = run

	if err := r.writeReport(run, r.now()); err != nil {
		return statsRun(run.Stats), err
	}
	return statsRun(run.Stats), nil
}

// rerender rebuilds the report artifacts from the last JSON artifact.
func (r *Runner) rerender(out *Outcome) (history.Run, error) {
	doc, err := report.ReadJSON(filepath.Join(r.cfg.Paths.Reports, report.JSONFile))
	if err != nil {
		return history.Run{}, err
	}
	run := &compare.Run{Results: doc.Results, Stats: doc.Stats}
	out.Comparison = run
	if doc.Site != "" && doc.Site != r.cfg.Site {
		r.log.Warn("runner: report was produced for another site", "report_site", doc.Site, "site", r.cfg.Site)
	}
	return statsRun(run.Stats), r.writeReport(run, doc.Timestamp)
}

func (r *Runner) writeReport(run *compare.Run, ts time.Time) error {
	a, err := report.Generate(report.Input{
		Results:      run.Results,
		Stats:        run.Stats,
		Site:         r.cfg.Site,
		Timestamp:    ts,
		ImageBase:    r.imageBase(),
		Descriptions: r.descriptions(),
	})
	if err != nil {
		return err
	}
	if err := report.Write(r.cfg.Paths.Reports, a); err != nil {
		return err
	}
	r.log.Info("runner: report written",
		"html", filepath.Join(r.cfg.Paths.Reports, report.HTMLFile),
		"json", filepath.Join(r.cfg.Paths.Reports, report.JSONFile))
	return nil
}

func (r *Runner) imageBase() string {
	rel, err := filepath.Rel(r.cfg.Paths.Reports, r.cfg.Paths.Screenshots)
	if err != nil {
		abs, err := filepath.Abs(r.cfg.Paths.Screenshots)
		if err != nil {
			return report.DefaultImageBase
		}
		return "file://" + filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// descriptions collects page descriptions across every suite.
func (r *Runner) descriptions() map[string]string {
	d := map[string]string{}
	for _, name := range append([]string{""}, r.cfg.SuiteNames()...) {
		pages, err := r.cfg.Pages(name)
		if err != nil {
			continue
		}
		for _, p := range pages {
			if p.Description != "" {
				d[p.Name] = p.Description
			}
		}
	}
	return d
}

func (r *Runner) record(ctx context.Context, rec history.Run, out *Outcome, p Phase) string {
	if r.hist == nil {
		return ""
	}
	var results []compare.Result
	if p == PhaseCompare && out.Comparison != nil {
		results = out.Comparison.Results
	}
	// A cancelled run is still recorded.
	id, err := r.hist.Record(context.WithoutCancel(ctx), rec, results)
	if err != nil {
		r.log.Warn("runner: history not recorded", "phase", p, "error", err)
		return ""
	}
	return id
}

func statsRun(s compare.Statistics) history.Run {
	status := history.StatusOK
	if s.HasChanges() {
		status = history.StatusChanges
	}
	return history.Run{Status: status, Total: s.Total, Passed: s.Passed, Failed: s.Failed, Errors: s.Errors}
}

// DiffOptions converts the comparison settings.
func DiffOptions(c config.ComparisonConfig) compare.DiffOptions {
	return compare.DiffOptions{
		Threshold: c.GetThreshold(),
		IncludeAA: c.IncludeAA,
		Alpha:     c.GetAlpha(),
		DiffColor: rgb(c.DiffColor),
		AAColor:   rgb(c.AAColor),
	}
}

func rgb(c []int) color.NRGBA {
	if len(c) != 3 {
		return color.NRGBA{A: 255}
	}
	return color.NRGBA{R: uint8(c[0]), G: uint8(c[1]), B: uint8(c[2]), A: 255}
}

// FormatPhases joins phase names for logs and help text.
func FormatPhases(ps []Phase) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
