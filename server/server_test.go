package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/visreg/compare"
	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/history"
	"github.com/hazyhaar/visreg/internal/dbopen"
	"github.com/hazyhaar/visreg/report"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Site: "http://shop.local",
		Paths: config.PathsConfig{
			Screenshots: filepath.Join(root, "screenshots"),
			Reports:     filepath.Join(root, "reports"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func writeReport(t *testing.T, cfg *config.Config, results []compare.Result) {
	t.Helper()
	a, err := report.Generate(report.Input{
		Results:   results,
		Stats:     compare.Summarize(results),
		Site:      cfg.Site,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := report.Write(cfg.Paths.Reports, a); err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

var shop = compare.Result{
	Filename: "shop-Desktop.png", Page: "shop", Device: "Desktop",
	DiffPercentage: 12.5, Severity: compare.SeverityMajor, Success: true,
}

func TestHealthz(t *testing.T) {
	h := Handler(Options{Config: testConfig(t)})
	w := get(t, h, "/healthz")
	if w.Code != 200 || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("healthz: %d %s", w.Code, w.Body)
	}
}

func TestReportsAndScreenshots(t *testing.T) {
	cfg := testConfig(t)
	writeReport(t, cfg, []compare.Result{shop})
	if err := os.MkdirAll(cfg.Paths.DiffDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.DiffDir(), "diff-shop-Desktop.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := Handler(Options{Config: cfg})

	if w := get(t, h, "/"); w.Code != http.StatusFound || w.Header().Get("Location") != "/reports/"+report.HTMLFile {
		t.Errorf("root redirect: %d %q", w.Code, w.Header().Get("Location"))
	}
	w := get(t, h, "/reports/"+report.HTMLFile)
	if w.Code != 200 || !strings.Contains(w.Body.String(), "shop-Desktop.png") {
		t.Errorf("report: %d", w.Code)
	}

	if got := ScreenshotsMount(cfg); got != "/screenshots" {
		t.Fatalf("ScreenshotsMount = %q", got)
	}
	w = get(t, h, "/screenshots/diff/diff-shop-Desktop.png")
	if w.Code != 200 || w.Body.String() != "png" {
		t.Errorf("diff image: %d %q", w.Code, w.Body)
	}
}

func TestScreenshotsMount(t *testing.T) {
	tests := []struct {
		reports, shots, want string
	}{
		{"/w/reports", "/w/screenshots", "/screenshots"},
		{"/w/out/reports", "/w/shots", "/shots"},
		{"/w/reports", "/w/reports/shots", "/screenshots"},
		{"/w/reports", "/w/api", "/screenshots"},
	}
	for _, tt := range tests {
		cfg := &config.Config{Paths: config.PathsConfig{Reports: tt.reports, Screenshots: tt.shots}}
		if got := ScreenshotsMount(cfg); got != tt.want {
			t.Errorf("ScreenshotsMount(%s, %s) = %q, want %q", tt.reports, tt.shots, got, tt.want)
		}
	}
}

func TestAPIResults(t *testing.T) {
	cfg := testConfig(t)
	h := Handler(Options{Config: cfg})

	if w := get(t, h, "/api/results"); w.Code != 404 {
		t.Errorf("before any comparison: got %d, want 404", w.Code)
	}

	writeReport(t, cfg, []compare.Result{shop})
	w := get(t, h, "/api/results")
	if w.Code != 200 {
		t.Fatalf("results: %d %s", w.Code, w.Body)
	}
	var doc report.Document
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Results) != 1 || doc.Results[0].Severity != compare.SeverityMajor || doc.Site != cfg.Site {
		t.Errorf("document: %+v", doc)
	}
}

func TestAPIRuns(t *testing.T) {
	cfg := testConfig(t)
	store, err := history.New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	id, err := store.Record(context.Background(), history.Run{
		Phase: "compare", Status: history.StatusChanges, StartedAt: now, FinishedAt: now,
		Total: 1, Failed: 1,
	}, []compare.Result{shop})
	if err != nil {
		t.Fatal(err)
	}
	h := Handler(Options{Config: cfg, History: store})

	w := get(t, h, "/api/runs?limit=5")
	var list struct {
		Runs []history.Run `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if w.Code != 200 || len(list.Runs) != 1 || list.Runs[0].ID != id {
		t.Errorf("runs: %d %+v", w.Code, list.Runs)
	}

	w = get(t, h, "/api/runs/"+id)
	var one struct {
		Comparisons []compare.Result `json:"comparisons"`
	}
	json.Unmarshal(w.Body.Bytes(), &one)
	if w.Code != 200 || len(one.Comparisons) != 1 || one.Comparisons[0].Filename != shop.Filename {
		t.Errorf("run comparisons: %d %+v", w.Code, one.Comparisons)
	}

	if w := get(t, h, "/api/runs/run_missing"); w.Code != 404 {
		t.Errorf("unknown run: got %d, want 404", w.Code)
	}
}

func TestAPIRuns_NoHistory(t *testing.T) {
	h := Handler(Options{Config: testConfig(t)})
	if w := get(t, h, "/api/runs"); w.Code != 503 {
		t.Errorf("got %d, want 503", w.Code)
	}
}

func TestServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), nil) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestSecurityHeadersAndHead(t *testing.T) {
	cfg := testConfig(t)
	writeReport(t, cfg, nil)
	h := Handler(Options{Config: cfg})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/reports/"+report.HTMLFile, nil))
	if w.Code != 200 {
		t.Fatalf("HEAD report: %d", w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "script-src 'self' 'unsafe-inline'") {
		t.Errorf("CSP = %q", csp)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}
