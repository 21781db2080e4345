package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hazyhaar/visreg/cleanup"
	"github.com/hazyhaar/visreg/compare"
	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/health"
	"github.com/hazyhaar/visreg/history"
	"github.com/hazyhaar/visreg/matrix"
	"github.com/hazyhaar/visreg/report"
	"github.com/hazyhaar/visreg/runner"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	metaStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	frameStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 2)
)

var severityStyles = map[compare.Severity]lipgloss.Style{
	compare.SeverityNone:     okStyle,
	compare.SeverityMinimal:  okStyle,
	compare.SeverityMinor:    warnStyle,
	compare.SeverityMajor:    failStyle,
	compare.SeverityCritical: failStyle,
}

func renderOutcome(out *runner.Outcome, cfg *config.Config, elapsed time.Duration) string {
	lines := []string{titleStyle.Render("visreg | " + cfg.Site), ""}
	if out == nil {
		return frameStyle.Render(strings.Join(append(lines, failStyle.Render("no phase ran")), "\n"))
	}

	lines = append(lines, sectionStyle.Render("Phases:"))
	for _, p := range out.Phases {
		status := okStyle.Render("ok")
		if p.Error != "" {
			status = failStyle.Render("failed: " + p.Error)
		}
		lines = append(lines, fmt.Sprintf("  %-15s %-10s %s", p.Phase, p.Duration.Round(time.Millisecond), status))
	}

	for _, mode := range []matrix.Mode{matrix.ModeBefore, matrix.ModeAfter} {
		log, ok := out.CaptureLogs[mode]
		if !ok {
			continue
		}
		lines = append(lines, "", sectionStyle.Render(fmt.Sprintf("Capture %s:", mode)))
		s := log.Summary
		lines = append(lines, fmt.Sprintf("  %d screenshots, %s, %s",
			s.Total, okStyle.Render(fmt.Sprintf("%d ok", s.Successful)), countStyle(s.Failed, failStyle).Render(fmt.Sprintf("%d failed", s.Failed))))
		for _, r := range log.Results {
			if !r.Success {
				lines = append(lines, metaStyle.Render(fmt.Sprintf("    %s: %s", r.Filename, r.Error)))
			}
		}
	}

	if out.Comparison != nil {
		st := out.Comparison.Stats
		lines = append(lines, "", sectionStyle.Render("Comparison:"))
		lines = append(lines, fmt.Sprintf("  %d pairs, %s, %s, %s, pass rate %.1f%%",
			st.Total,
			okStyle.Render(fmt.Sprintf("%d passed", st.Passed)),
			countStyle(st.Failed, failStyle).Render(fmt.Sprintf("%d changed", st.Failed)),
			countStyle(st.Errors, warnStyle).Render(fmt.Sprintf("%d errors", st.Errors)),
			st.PassRate()))
		for _, sev := range compare.Severities {
			if n := st.BySeverity[sev]; n > 0 {
				lines = append(lines, fmt.Sprintf("    %-9s %d", severityStyles[sev].Render(sev.String()), n))
			}
		}
		for _, r := range out.Comparison.Results {
			if r.Success && !r.Passed {
				lines = append(lines, fmt.Sprintf("  %s %s %.2f%%",
					severityStyles[r.Severity].Render(fmt.Sprintf("%-9s", r.Severity)), r.Filename, r.DiffPercentage))
			}
		}
		lines = append(lines, "", metaStyle.Render("Report: "+filepath.Join(cfg.Paths.Reports, report.HTMLFile)))
	}

	lines = append(lines, metaStyle.Render("Elapsed: "+elapsed.Round(time.Millisecond).String()))
	return frameStyle.Render(strings.Join(lines, "\n"))
}

// countStyle renders zero counts muted.
func countStyle(n int, s lipgloss.Style) lipgloss.Style {
	if n == 0 {
		return metaStyle
	}
	return s
}

func renderHealth(rep health.Report) string {
	lines := []string{titleStyle.Render("visreg health"), ""}
	for _, c := range rep.Checks {
		var mark string
		switch c.Status {
		case health.Pass:
			mark = okStyle.Render("PASS")
		case health.Warn:
			mark = warnStyle.Render("WARN")
		default:
			mark = failStyle.Render("FAIL")
		}
		lines = append(lines, fmt.Sprintf("  %s  %-8s %s", mark, c.Name, c.Detail))
	}
	lines = append(lines, "")
	if rep.OK {
		lines = append(lines, okStyle.Render("Ready to capture."))
	} else {
		lines = append(lines, failStyle.Render("Fix the failing checks before capturing."))
	}
	return frameStyle.Render(strings.Join(lines, "\n"))
}

func renderStorage(usage []cleanup.Usage) string {
	lines := []string{sectionStyle.Render("Storage:")}
	for _, u := range usage {
		lines = append(lines, fmt.Sprintf("  %-8s %5d files %10s  %s",
			u.Name, u.Files, cleanup.FormatBytes(u.Bytes), metaStyle.Render(u.Dir)))
	}
	return strings.Join(lines, "\n")
}

func renderRuns(runs []history.Run) string {
	if len(runs) == 0 {
		return metaStyle.Render("no runs recorded")
	}
	lines := []string{sectionStyle.Render("Runs:")}
	for _, r := range runs {
		st := okStyle
		switch r.Status {
		case history.StatusChanges:
			st = warnStyle
		case history.StatusFailed:
			st = failStyle
		}
		line := fmt.Sprintf("  %s  %-15s %s  total %d, passed %d, failed %d, errors %d",
			r.ID, r.Phase, st.Render(fmt.Sprintf("%-7s", r.Status)), r.Total, r.Passed, r.Failed, r.Errors)
		lines = append(lines, line, metaStyle.Render("    "+r.StartedAt.Local().Format(time.DateTime)+" "+r.Suite))
	}
	return strings.Join(lines, "\n")
}

func renderComparisons(runID string, results []compare.Result) string {
	lines := []string{sectionStyle.Render("Run " + runID + ":")}
	sorted := append([]compare.Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DiffPercentage > sorted[j].DiffPercentage })
	for _, r := range sorted {
		if !r.Success {
			lines = append(lines, fmt.Sprintf("  %s %s %s", warnStyle.Render("error    "), r.Filename, metaStyle.Render(r.Error)))
			continue
		}
		lines = append(lines, fmt.Sprintf("  %s %s %.2f%%",
			severityStyles[r.Severity].Render(fmt.Sprintf("%-9s", r.Severity)), r.Filename, r.DiffPercentage))
	}
	return strings.Join(lines, "\n")
}
