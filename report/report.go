// Package report renders comparison results into a self-contained HTML
// report with client-side filters, a lossless JSON document and a short
// Markdown summary for CI comments.
package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/visreg/compare"
)

// Output file names under the reports directory.
const (
	HTMLFile     = "visual-comparison-report.html"
	JSONFile     = "comparison-results.json"
	MarkdownFile = "comparison-summary.md"
)

// DefaultImageBase is the screenshots root as seen from the reports
// directory when both live side by side.
const DefaultImageBase = "../screenshots"

//go:embed report.html.tmpl
var reportHTML string

//go:embed summary.html.tmpl
var summaryHTML string

var (
	reportTmpl  = template.Must(template.New("report").Parse(reportHTML))
	summaryTmpl = template.Must(template.New("summary").Parse(summaryHTML))
	sanitizer   = bluemonday.UGCPolicy()
)

// Input is everything a report is derived from.
type Input struct {
	Results   []compare.Result
	Stats     compare.Statistics
	Site      string
	Timestamp time.Time
	// ImageBase is the URL path from the report to the screenshots root.
	ImageBase string
	// Descriptions maps page names to their (possibly HTML) description.
	Descriptions map[string]string
}

// Document is the JSON artifact.
type Document struct {
	Timestamp time.Time          `json:"timestamp"`
	Site      string             `json:"site"`
	Results   []compare.Result   `json:"results"`
	Stats     compare.Statistics `json:"stats"`
}

// Artifacts are the rendered outputs.
type Artifacts struct {
	HTML     []byte
	JSON     []byte
	Markdown []byte
}

type row struct {
	compare.Result
	Status       string // passed | failed | error
	SeverityName string
	Description  template.HTML
	BeforeSrc    string
	AfterSrc     string
	DiffSrc      string
}

type severityCount struct {
	Name  string
	Count int
}

type deviceRow struct {
	Name string
	compare.DeviceStats
}

type view struct {
	Site       string
	Generated  string
	Stats      compare.Statistics
	PassRate   float64
	Rows       []row
	Changed    []row
	Errored    []row
	Severities []severityCount
	Devices    []deviceRow
}

// Generate renders the three artifacts. It does not touch the filesystem.
func Generate(in Input) (*Artifacts, error) {
	if in.Results == nil {
		in.Results = []compare.Result{}
	}
	if in.ImageBase == "" {
		in.ImageBase = DefaultImageBase
	}
	if in.Stats.BySeverity == nil {
		in.Stats = compare.Summarize(in.Results)
	}

	doc := Document{Timestamp: in.Timestamp.UTC(), Site: in.Site, Results: in.Results, Stats: in.Stats}
	jsonData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: marshal json: %w", err)
	}

	v := buildView(in)

	var htmlBuf bytes.Buffer
	if err := reportTmpl.Execute(&htmlBuf, v); err != nil {
		return nil, fmt.Errorf("report: render html: %w", err)
	}

	md, err := markdown(v)
	if err != nil {
		return nil, err
	}

	return &Artifacts{HTML: htmlBuf.Bytes(), JSON: append(jsonData, '\n'), Markdown: md}, nil
}

func buildView(in Input) view {
	v := view{
		Site:      in.Site,
		Generated: in.Timestamp.UTC().Format(time.RFC1123),
		Stats:     in.Stats,
		PassRate:  in.Stats.PassRate(),
	}
	for _, r := range in.Results {
		rw := row{
			Result:       r,
			SeverityName: r.Severity.String(),
			BeforeSrc:    path.Join(in.ImageBase, "before", r.Filename),
			AfterSrc:     path.Join(in.ImageBase, "after", r.Filename),
		}
		if r.DiffPath != "" {
			rw.DiffSrc = path.Join(in.ImageBase, "diff", filepath.Base(r.DiffPath))
		}
		if d := in.Descriptions[r.Page]; d != "" {
			rw.Description = template.HTML(sanitizer.Sanitize(d))
		}
		switch {
		case !r.Success:
			rw.Status = "error"
			rw.SeverityName = "error"
			v.Errored = append(v.Errored, rw)
		case r.Passed:
			rw.Status = "passed"
		default:
			rw.Status = "failed"
			v.Changed = append(v.Changed, rw)
		}
		v.Rows = append(v.Rows, rw)
	}
	for _, s := range compare.Severities {
		v.Severities = append(v.Severities, severityCount{Name: s.String(), Count: in.Stats.BySeverity[s]})
	}
	for _, name := range deviceNames(in.Results) {
		v.Devices = append(v.Devices, deviceRow{Name: name, DeviceStats: in.Stats.ByDevice[name]})
	}
	return v
}

// deviceNames lists devices in first-seen order, which is the matrix order.
func deviceNames(results []compare.Result) []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range results {
		if !seen[r.Device] {
			seen[r.Device] = true
			names = append(names, r.Device)
		}
	}
	return names
}

func markdown(v view) ([]byte, error) {
	var buf bytes.Buffer
	if err := summaryTmpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("report: render summary: %w", err)
	}
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	md, err := conv.ConvertString(buf.String())
	if err != nil {
		return nil, fmt.Errorf("report: convert summary: %w", err)
	}
	return []byte(strings.TrimSpace(md) + "\n"), nil
}

// Write stores the artifacts under dir, replacing earlier ones.
func Write(dir string, a *Artifacts) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: create %s: %w", dir, err)
	}
	for name, data := range map[string][]byte{
		HTMLFile:     a.HTML,
		JSONFile:     a.JSON,
		MarkdownFile: a.Markdown,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("report: write %s: %w", name, err)
		}
	}
	return nil
}

// ReadJSON loads a JSON artifact written by Write.
func ReadJSON(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("report: parse %s: %w", path, err)
	}
	if doc.Results == nil {
		doc.Results = []compare.Result{}
	}
	return &doc, nil
}
