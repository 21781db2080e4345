package runner

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/visreg/capture"
	"github.com/hazyhaar/visreg/compare"
	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/history"
	"github.com/hazyhaar/visreg/internal/dbopen"
	"github.com/hazyhaar/visreg/matrix"
	"github.com/hazyhaar/visreg/report"
)

// site renders every page as a 20×20 white image. A page listed in
// changed gets a black 10×10 square; URLs containing a down entry fail.
type site struct {
	changed []string
	down    []string
}

func (s site) open(context.Context) (capture.Session, error) { return &session{site: s}, nil }

type session struct{ site site }

func (s *session) NewSurface(context.Context) (capture.Surface, error) {
	return &surface{site: s.site}, nil
}
func (s *session) SupportsIsolation() bool { return false }
func (s *session) Close() error            { return nil }

type surface struct {
	site site
	url  string
}

func (f *surface) Configure(context.Context, matrix.DeviceProfile) error { return nil }

func (f *surface) Navigate(_ context.Context, url string, _ capture.NavigateOptions) error {
	for _, d := range f.site.down {
		if strings.Contains(url, d) {
			return errors.New("net::ERR_NAME_NOT_RESOLVED")
		}
	}
	f.url = url
	return nil
}

func (f *surface) Eval(context.Context, string) error { return nil }

func (f *surface) Screenshot(context.Context, capture.ScreenshotOptions) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for _, c := range f.site.changed {
		if strings.Contains(f.url, c) {
			for y := 0; y < 10; y++ {
				for x := 0; x < 10; x++ {
					img.SetNRGBA(x, y, color.NRGBA{A: 255})
				}
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *surface) Fill(context.Context, string, string) error { return nil }
func (f *surface) Submit(context.Context, string, capture.NavigateOptions) error {
	return nil
}
func (f *surface) URL(context.Context) (string, error) { return f.url, nil }
func (f *surface) Close() error                        { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	settle := time.Millisecond
	cfg := &config.Config{
		Site: "http://shop.local",
		Delays: config.DelayConfig{
			AfterPageLoad:    &settle,
			BeforeScreenshot: &settle,
			BetweenPages:     &settle,
		},
		Paths: config.PathsConfig{
			Screenshots: filepath.Join(root, "screenshots"),
			Reports:     filepath.Join(root, "reports"),
		},
		Devices: []matrix.DeviceProfile{
			{Name: "Desktop", Viewport: matrix.Viewport{Width: 1920, Height: 1080}},
			{Name: "Mobile", Viewport: matrix.Viewport{Width: 375, Height: 667}},
		},
		Suites: map[string]map[string][]matrix.PageDescriptor{
			"shop": {"general": {
				{Name: "home", Path: "/", Description: "Homepage"},
				{Name: "shop", Path: "/shop/", Description: "Product <b>listing</b>"},
			}},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newRunner(t *testing.T, cfg *config.Config, s site, hist *history.Store) *Runner {
	t.Helper()
	return New(Options{Config: cfg, Suite: "shop", Open: s.open, History: hist})
}

func TestRun_FullPipeline(t *testing.T) {
	cfg := testConfig(t)
	hist, err := history.New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	before, err := newRunner(t, cfg, site{}, hist).Run(ctx, PhaseCaptureBefore)
	if err != nil {
		t.Fatal(err)
	}
	if got := before.CaptureLogs[matrix.ModeBefore].Summary; got.Successful != 4 {
		t.Fatalf("before: %+v", got)
	}

	// After: shop changed, and shop on Mobile cannot be captured.
	afterOut, err := New(Options{Config: cfg, Suite: "shop", History: hist, Open: mobileShopDown{}.open}).
		Run(ctx, PhaseCaptureAfter, PhaseCompare)
	if err != nil {
		t.Fatal(err)
	}
	if got := afterOut.CaptureLogs[matrix.ModeAfter].Summary; got.Total != 4 || got.Failed != 1 {
		t.Errorf("after summary: %+v", got)
	}

	st := afterOut.Comparison.Stats
	if st.Total != 3 || st.Passed != 2 || st.Failed != 1 || st.Errors != 0 {
		t.Errorf("stats: %+v", st)
	}
	if st.BySeverity[compare.SeverityCritical] != 1 {
		t.Errorf("25%% change should be critical: %+v", st.BySeverity)
	}
	if afterOut.ExitCode(false) != ExitOK || afterOut.ExitCode(true) != ExitChanges {
		t.Errorf("exit codes: %d / %d", afterOut.ExitCode(false), afterOut.ExitCode(true))
	}

	for _, f := range []string{report.HTMLFile, report.JSONFile, report.MarkdownFile} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.Reports, f)); err != nil {
			t.Errorf("%s: %v", f, err)
		}
	}
	html, _ := os.ReadFile(filepath.Join(cfg.Paths.Reports, report.HTMLFile))
	if !strings.Contains(string(html), `src="../screenshots/diff/diff-shop-Desktop.png"`) {
		t.Error("report does not reference the diff image relative to reports/")
	}
	if !strings.Contains(string(html), "Product <b>listing</b>") {
		t.Error("page description missing")
	}

	// Re-rendering from the JSON artifact is stable.
	jsonBefore, _ := os.ReadFile(filepath.Join(cfg.Paths.Reports, report.JSONFile))
	if _, err := newRunner(t, cfg, site{}, hist).Run(ctx, PhaseReport); err != nil {
		t.Fatal(err)
	}
	jsonAfter, _ := os.ReadFile(filepath.Join(cfg.Paths.Reports, report.JSONFile))
	if !bytes.Equal(jsonBefore, jsonAfter) {
		t.Error("report phase changed the JSON artifact")
	}

	runs, err := hist.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 4 {
		t.Fatalf("history runs: got %d, want 4", len(runs))
	}
	var compareRun history.Run
	for _, run := range runs {
		if run.Phase == string(PhaseCompare) {
			compareRun = run
		}
	}
	if compareRun.Status != history.StatusChanges || compareRun.Total != 3 {
		t.Errorf("compare run: %+v", compareRun)
	}
	pairs, err := hist.RunComparisons(ctx, compareRun.ID)
	if err != nil || len(pairs) != 3 {
		t.Fatalf("recorded pairs: %d, err %v", len(pairs), err)
	}
}

// mobileShopDown fails the Mobile capture of /shop/ and changes the
// Desktop one.
type mobileShopDown struct{}

func (mobileShopDown) open(context.Context) (capture.Session, error) {
	return &deviceSession{}, nil
}

type deviceSession struct{}

func (deviceSession) NewSurface(context.Context) (capture.Surface, error) {
	return &deviceSurface{}, nil
}
func (deviceSession) SupportsIsolation() bool { return false }
func (deviceSession) Close() error            { return nil }

type deviceSurface struct {
	surface
	device string
}

func (d *deviceSurface) Configure(_ context.Context, dev matrix.DeviceProfile) error {
	d.device = dev.Name
	d.surface.site = site{changed: []string{"/shop/"}}
	if dev.Name == "Mobile" {
		d.surface.site.down = []string{"/shop/"}
	}
	return nil
}

func TestRun_CompareWithoutScreenshots(t *testing.T) {
	cfg := testConfig(t)
	out, err := newRunner(t, cfg, site{}, nil).Run(context.Background(), PhaseCompare)
	if err != nil {
		t.Fatalf("empty comparison must not fail: %v", err)
	}
	if out.Comparison.Stats.Total != 0 || out.ExitCode(true) != ExitOK {
		t.Errorf("stats=%+v exit=%d", out.Comparison.Stats, out.ExitCode(true))
	}
	html, err := os.ReadFile(filepath.Join(cfg.Paths.Reports, report.HTMLFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(html), "No comparisons were made") {
		t.Error("empty state missing")
	}
}

func TestRun_ReportWithoutResults(t *testing.T) {
	cfg := testConfig(t)
	out, err := newRunner(t, cfg, site{}, nil).Run(context.Background(), PhaseReport)
	if err == nil {
		t.Fatal("report without comparison results should fail")
	}
	if !out.Failed || out.ExitCode(false) != ExitFatal {
		t.Errorf("failed=%v exit=%d", out.Failed, out.ExitCode(false))
	}
}

func TestRun_StopsAtFatalError(t *testing.T) {
	cfg := testConfig(t)
	r := New(Options{Config: cfg, Suite: "shop", Open: func(context.Context) (capture.Session, error) {
		return nil, errors.New("no chrome")
	}})
	out, err := r.Run(context.Background(), PhaseCaptureBefore, PhaseCaptureAfter)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(out.Phases) != 1 || out.Phases[0].Error == "" {
		t.Errorf("phases: %+v", out.Phases)
	}
}

func TestRun_UnknownSuite(t *testing.T) {
	cfg := testConfig(t)
	r := New(Options{Config: cfg, Suite: "blog", Open: site{}.open})
	if _, err := r.Run(context.Background(), PhaseCaptureBefore); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("got %v, want config.ErrInvalid", err)
	}
}

func TestParsePhase(t *testing.T) {
	for _, p := range Phases {
		got, err := ParsePhase(string(p))
		if err != nil || got != p {
			t.Errorf("ParsePhase(%s) = %s, %v", p, got, err)
		}
	}
	if _, err := ParsePhase("deploy"); err == nil {
		t.Error("unknown phase accepted")
	}
	if CapturePhase(matrix.ModeAfter) != PhaseCaptureAfter || CapturePhase(matrix.ModeBefore) != PhaseCaptureBefore {
		t.Error("CapturePhase mapping")
	}
}

func TestExitCode_Nil(t *testing.T) {
	var o *Outcome
	if o.ExitCode(false) != ExitFatal {
		t.Error("nil outcome should be fatal")
	}
}

func TestDiffOptions(t *testing.T) {
	var cfg config.ComparisonConfig
	if got := DiffOptions(cfg); got.Threshold != config.DefaultThreshold || got.Alpha != config.DefaultAlpha {
		t.Errorf("unset: got %+v", got)
	}

	zero := 0.0
	cfg = config.ComparisonConfig{Threshold: &zero, Alpha: &zero, DiffColor: []int{1, 2, 3}}
	got := DiffOptions(cfg)
	if got.Threshold != 0 || got.Alpha != 0 {
		t.Errorf("explicit zero: got threshold=%v alpha=%v", got.Threshold, got.Alpha)
	}
	if got.DiffColor != (color.NRGBA{1, 2, 3, 255}) {
		t.Errorf("DiffColor = %v", got.DiffColor)
	}
}
