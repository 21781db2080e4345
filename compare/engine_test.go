package compare

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/visreg/matrix"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func fillRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

var (
	white = color.NRGBA{255, 255, 255, 255}
	black = color.NRGBA{0, 0, 0, 255}
)

type dirs struct{ before, after, diff string }

func testDirs(t *testing.T) dirs {
	root := t.TempDir()
	return dirs{
		before: filepath.Join(root, "before"),
		after:  filepath.Join(root, "after"),
		diff:   filepath.Join(root, "diff"),
	}
}

func (d dirs) engine() *Engine {
	return New(Options{BeforeDir: d.before, AfterDir: d.after, DiffDir: d.diff, Diff: DefaultDiffOptions()})
}

func TestDiff_Identical(t *testing.T) {
	img := solid(20, 20, white)
	fillRect(img, image.Rect(5, 5, 10, 10), black)

	n, out := Diff(img, img, DefaultDiffOptions())
	if n != 0 {
		t.Fatalf("identical images: got %d differing pixels", n)
	}
	if out.Rect.Dx() != 20 || out.Rect.Dy() != 20 {
		t.Fatalf("diff bounds: got %v", out.Rect)
	}
	// Unchanged pixels are dimmed toward white.
	if p := out.NRGBAAt(7, 7); p.R < 200 {
		t.Errorf("unchanged black pixel should fade, got %v", p)
	}
}

func TestDiff_MarksChangedPixels(t *testing.T) {
	a := solid(100, 100, white)
	b := solid(100, 100, white)
	fillRect(b, image.Rect(10, 10, 30, 20), black)

	opts := DefaultDiffOptions()
	n, out := Diff(a, b, opts)
	if n != 200 {
		t.Fatalf("differing pixels: got %d, want 200", n)
	}
	if got := out.NRGBAAt(15, 15); got != opts.DiffColor {
		t.Errorf("changed pixel color: got %v, want %v", got, opts.DiffColor)
	}
}

func TestDiff_ThresholdTolerance(t *testing.T) {
	a := solid(10, 10, color.NRGBA{200, 200, 200, 255})
	b := solid(10, 10, color.NRGBA{202, 200, 200, 255})

	if n, _ := Diff(a, b, DefaultDiffOptions()); n != 0 {
		t.Errorf("near-identical colors: got %d differing pixels", n)
	}
	strict := DefaultDiffOptions()
	strict.Threshold = 0.001
	if n, _ := Diff(a, b, strict); n != 100 {
		t.Errorf("strict threshold: got %d differing pixels, want 100", n)
	}
}

func TestNew_DiffOptionDefaults(t *testing.T) {
	if got := New(Options{}).opts.Diff; got != DefaultDiffOptions() {
		t.Errorf("zero options: got %+v, want defaults", got)
	}

	exact := DefaultDiffOptions()
	exact.Threshold = 0
	exact.Alpha = 0
	if got := New(Options{Diff: exact}).opts.Diff; got != exact {
		t.Errorf("explicit zero threshold and alpha replaced: got %+v", got)
	}
}

func TestDiff_AntiAliasedEdgeExcluded(t *testing.T) {
	// A hard black/white edge whose boundary column turns gray in b looks
	// like sub-pixel rendering noise.
	a := solid(9, 9, white)
	fillRect(a, image.Rect(0, 0, 4, 9), black)
	b := solid(9, 9, white)
	fillRect(b, image.Rect(0, 0, 4, 9), black)
	fillRect(b, image.Rect(4, 0, 5, 9), color.NRGBA{128, 128, 128, 255})

	opts := DefaultDiffOptions()
	n, out := Diff(a, b, opts)
	if n != 0 {
		t.Errorf("anti-aliased column: got %d differing pixels, want 0", n)
	}
	if got := out.NRGBAAt(4, 4); got != opts.AAColor {
		t.Errorf("aa pixel color: got %v, want %v", got, opts.AAColor)
	}

	opts.IncludeAA = true
	if n, _ := Diff(a, b, opts); n != 9 {
		t.Errorf("IncludeAA: got %d differing pixels, want 9", n)
	}
}

func TestCompareAll_SelfComparison(t *testing.T) {
	d := testDirs(t)
	img := solid(50, 40, white)
	fillRect(img, image.Rect(0, 0, 10, 10), black)
	writePNG(t, filepath.Join(d.before, "homepage-Desktop.png"), img)
	writePNG(t, filepath.Join(d.after, "homepage-Desktop.png"), img)

	run, err := d.engine().CompareAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Results) != 1 {
		t.Fatalf("results: got %d", len(run.Results))
	}
	r := run.Results[0]
	if !r.Success || r.PixelDiff != 0 || r.DiffPercentage != 0 || r.Severity != SeverityNone || !r.Passed {
		t.Fatalf("self comparison: %+v", r)
	}
	if r.Page != "homepage" || r.Device != "Desktop" {
		t.Errorf("identity: got %q/%q", r.Page, r.Device)
	}
	if r.TotalPixels != 2000 || r.Dimensions != (Dimensions{50, 40}) {
		t.Errorf("size: %+v", r)
	}
	if _, err := os.Stat(filepath.Join(d.diff, "diff-homepage-Desktop.png")); err != nil {
		t.Errorf("diff image: %v", err)
	}
}

func TestCompareAll_ChangedPair(t *testing.T) {
	d := testDirs(t)
	writePNG(t, filepath.Join(d.before, "shop-Mobile.png"), solid(100, 100, white))
	changed := solid(100, 100, white)
	fillRect(changed, image.Rect(10, 10, 30, 20), black)
	writePNG(t, filepath.Join(d.after, "shop-Mobile.png"), changed)

	run, err := d.engine().CompareAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r := run.Results[0]
	if r.PixelDiff != 200 || r.DiffPercentage != 2 {
		t.Fatalf("diff: got %d px / %v%%", r.PixelDiff, r.DiffPercentage)
	}
	if r.Severity != SeverityMinor || r.Passed {
		t.Errorf("classification: severity %s passed %v", r.Severity, r.Passed)
	}
	if run.Stats.Failed != 1 || run.Stats.BySeverity[SeverityMinor] != 1 {
		t.Errorf("stats: %+v", run.Stats)
	}
	if run.Stats.ByDevice["Mobile"].Failed != 1 {
		t.Errorf("device stats: %+v", run.Stats.ByDevice)
	}
}

func TestCompareAll_DimensionMismatch(t *testing.T) {
	d := testDirs(t)
	writePNG(t, filepath.Join(d.before, "home-Desktop.png"), solid(10, 10, white))
	writePNG(t, filepath.Join(d.after, "home-Desktop.png"), solid(10, 12, white))
	writePNG(t, filepath.Join(d.before, "about-Desktop.png"), solid(10, 10, white))
	writePNG(t, filepath.Join(d.after, "about-Desktop.png"), solid(10, 10, white))

	run, err := d.engine().CompareAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var bad Result
	for _, r := range run.Results {
		if r.Filename == "home-Desktop.png" {
			bad = r
		}
	}
	if bad.Success {
		t.Fatal("mismatched pair should not succeed")
	}
	if !strings.Contains(bad.Error, ErrDimensionMismatch.Error()) {
		t.Errorf("error: got %q", bad.Error)
	}
	st := run.Stats
	if st.Total != 2 || st.Passed != 1 || st.Failed != 0 || st.Errors != 1 {
		t.Errorf("stats: %+v", st)
	}
	if st.BySeverity[SeverityNone] != 1 {
		t.Errorf("errors must not count in severities: %v", st.BySeverity)
	}
}

func TestCompareAll_CorruptImage(t *testing.T) {
	d := testDirs(t)
	writePNG(t, filepath.Join(d.before, "x-Desktop.png"), solid(4, 4, white))
	if err := os.MkdirAll(d.after, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(d.after, "x-Desktop.png"), []byte("not a png"), 0o644); err != nil {
		t.Fatal(err)
	}

	run, err := d.engine().CompareAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if run.Results[0].Success || !strings.HasPrefix(run.Results[0].Error, "after:") {
		t.Errorf("corrupt after: %+v", run.Results[0])
	}
}

func TestCompareAll_OneSidedAndEmpty(t *testing.T) {
	d := testDirs(t)

	run, err := d.engine().CompareAll(context.Background())
	if err != nil {
		t.Fatalf("missing directories: %v", err)
	}
	if len(run.Results) != 0 || run.Stats.Total != 0 {
		t.Fatalf("empty run: %+v", run)
	}

	writePNG(t, filepath.Join(d.before, "only-before-Desktop.png"), solid(4, 4, white))
	writePNG(t, filepath.Join(d.after, "only-after-Desktop.png"), solid(4, 4, white))
	run, err = d.engine().CompareAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if run.Stats.Total != 0 {
		t.Errorf("one-sided files must be skipped, got total %d", run.Stats.Total)
	}
}

func TestCompareAll_UsesSidecarIndex(t *testing.T) {
	d := testDirs(t)
	writePNG(t, filepath.Join(d.before, "a-b-c.png"), solid(4, 4, white))
	writePNG(t, filepath.Join(d.after, "a-b-c.png"), solid(4, 4, white))
	idx := matrix.Index{"a-b-c.png": {Page: "a", Device: "b-c", Category: "public"}}
	if err := matrix.WriteIndex(d.after, idx); err != nil {
		t.Fatal(err)
	}

	run, err := d.engine().CompareAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r := run.Results[0]
	if r.Page != "a" || r.Device != "b-c" || r.Category != "public" {
		t.Errorf("identity from index: %+v", r)
	}
}

func TestCompareAll_Cancelled(t *testing.T) {
	d := testDirs(t)
	writePNG(t, filepath.Join(d.before, "p-D.png"), solid(4, 4, white))
	writePNG(t, filepath.Join(d.after, "p-D.png"), solid(4, 4, white))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.engine().CompareAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestStatistics_Summarize(t *testing.T) {
	results := []Result{
		{Device: "Desktop", Success: true, Passed: true, Severity: SeverityNone},
		{Device: "Desktop", Success: true, Passed: true, Severity: SeverityMinimal},
		{Device: "Mobile", Success: true, Passed: false, Severity: SeverityCritical},
		{Device: "Mobile", Success: false},
	}
	s := Summarize(results)
	if s.Total != 4 || s.Passed != 2 || s.Failed != 1 || s.Errors != 1 {
		t.Fatalf("counts: %+v", s)
	}
	if s.ByDevice["Desktop"] != (DeviceStats{Passed: 2}) {
		t.Errorf("Desktop: %+v", s.ByDevice["Desktop"])
	}
	if s.ByDevice["Mobile"] != (DeviceStats{Failed: 1, Errors: 1}) {
		t.Errorf("Mobile: %+v", s.ByDevice["Mobile"])
	}
	if len(s.BySeverity) != 5 || s.BySeverity[SeverityCritical] != 1 {
		t.Errorf("BySeverity: %v", s.BySeverity)
	}
	if got := s.PassRate(); got < 66.6 || got > 66.7 {
		t.Errorf("PassRate: got %v", got)
	}

	var zero Statistics
	zero.Add(results[0])
	if zero.Total != 1 || zero.BySeverity[SeverityNone] != 1 {
		t.Errorf("Add on zero value: %+v", zero)
	}
}
