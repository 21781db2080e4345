// Package health verifies that a site and the local workspace are ready
// for a capture run.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/matrix"
)

// Status of one check.
type Status string

const (
	Pass Status = "pass"
	Warn Status = "warn"
	Fail Status = "fail"
)

// Check is the result of one verification.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Report is the outcome of Run. OK is false when any check failed;
// warnings do not count.
type Report struct {
	Checks []Check `json:"checks"`
	OK     bool    `json:"ok"`
}

// Options configures Run.
type Options struct {
	Config *config.Config
	// Client defaults to an http.Client with a 10s timeout.
	Client *http.Client
	// Browser, when set, is called to verify a browser can be started.
	Browser func(ctx context.Context) error
	Logger  *slog.Logger
}

// Run executes every check in order.
func Run(ctx context.Context, opts Options) Report {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	checks := []Check{
		checkFolders(opts.Config),
		checkSite(ctx, opts.Client, opts.Config.Site),
		checkLogin(ctx, opts.Client, opts.Config),
	}
	if opts.Browser != nil {
		checks = append(checks, checkBrowser(ctx, opts.Browser))
	}

	rep := Report{Checks: checks, OK: true}
	for _, c := range checks {
		if c.Status == Fail {
			rep.OK = false
		}
		opts.Logger.Debug("health: check", "name", c.Name, "status", c.Status, "detail", c.Detail)
	}
	return rep
}

func checkFolders(cfg *config.Config) Check {
	dirs := []string{
		cfg.Paths.ModeDir(matrix.ModeBefore),
		cfg.Paths.ModeDir(matrix.ModeAfter),
		cfg.Paths.DiffDir(),
		cfg.Paths.Reports,
	}
	var created []string
	for _, d := range dirs {
		if _, err := os.Stat(d); err == nil {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return Check{Name: "folders", Status: Fail, Detail: fmt.Sprintf("cannot create %s: %v", d, err)}
		}
		created = append(created, d)
	}
	if len(created) > 0 {
		return Check{Name: "folders", Status: Pass, Detail: "created " + strings.Join(created, ", ")}
	}
	return Check{Name: "folders", Status: Pass, Detail: "all output folders exist"}
}

func checkSite(ctx context.Context, client *http.Client, site string) Check {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, site, nil)
	if err != nil {
		return Check{Name: "site", Status: Fail, Detail: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Check{Name: "site", Status: Fail, Detail: fmt.Sprintf("%s is not reachable: %v", site, err)}
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Check{Name: "site", Status: Fail, Detail: fmt.Sprintf("%s returned %s", site, resp.Status)}
	}
	return Check{Name: "site", Status: Pass, Detail: site + " is reachable"}
}

func checkLogin(ctx context.Context, client *http.Client, cfg *config.Config) Check {
	if !cfg.Auth.Configured() {
		return Check{Name: "login", Status: Warn, Detail: "no credentials configured, capturing public pages only"}
	}
	loginURL := cfg.URL(cfg.Auth.LoginURL)
	if strings.HasPrefix(cfg.Auth.LoginURL, "http://") || strings.HasPrefix(cfg.Auth.LoginURL, "https://") {
		loginURL = cfg.Auth.LoginURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginURL, nil)
	if err != nil {
		return Check{Name: "login", Status: Warn, Detail: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Check{Name: "login", Status: Warn, Detail: fmt.Sprintf("login page not reachable: %v", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Check{Name: "login", Status: Warn, Detail: fmt.Sprintf("login page returned %s", resp.Status)}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return Check{Name: "login", Status: Warn, Detail: fmt.Sprintf("login page unreadable: %v", err)}
	}
	var missing, invalid []string
	for _, sel := range []string{cfg.Auth.UsernameSelector, cfg.Auth.PasswordSelector, cfg.Auth.SubmitSelector} {
		found, err := hasElement(doc, sel)
		switch {
		case err != nil:
			invalid = append(invalid, err.Error())
		case !found:
			missing = append(missing, sel)
		}
	}
	if len(invalid) > 0 {
		return Check{Name: "login", Status: Warn, Detail: "invalid login selectors: " + strings.Join(invalid, "; ")}
	}
	if len(missing) > 0 {
		return Check{Name: "login", Status: Warn, Detail: "login form fields not found: " + strings.Join(missing, ", ")}
	}
	return Check{Name: "login", Status: Pass, Detail: "login form found at " + loginURL}
}

func checkBrowser(ctx context.Context, start func(context.Context) error) Check {
	if err := start(ctx); err != nil {
		return Check{Name: "browser", Status: Fail, Detail: err.Error()}
	}
	return Check{Name: "browser", Status: Pass, Detail: "browser started"}
}

// hasElement reports whether doc contains an element matching the CSS
// selector. A selector that does not compile is an error.
func hasElement(doc *goquery.Document, selector string) (bool, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return false, fmt.Errorf("%q: %w", selector, err)
	}
	return doc.FindMatcher(m).Length() > 0, nil
}
