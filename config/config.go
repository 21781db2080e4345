// Package config loads visreg settings from a YAML file: the site under
// test, credentials, browser and screenshot options, timing knobs,
// comparison sensitivity, device profiles and page suites.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/visreg/matrix"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level visreg configuration.
type Config struct {
	Site        string            `yaml:"site"`
	Auth        AuthConfig        `yaml:"auth"`
	Browser     BrowserConfig     `yaml:"browser"`
	Screenshot  ScreenshotConfig  `yaml:"screenshot"`
	Delays      DelayConfig       `yaml:"delays"`
	Comparison  ComparisonConfig  `yaml:"comparison"`
	Performance PerformanceConfig `yaml:"performance"`
	Paths       PathsConfig       `yaml:"paths"`
	Suppress    SuppressConfig    `yaml:"suppress"`

	Devices []matrix.DeviceProfile `yaml:"devices"`

	// Suites maps a suite name to its category → pages catalog.
	Suites map[string]map[string][]matrix.PageDescriptor `yaml:"suites"`
}

// AuthConfig holds the optional login used before capturing.
type AuthConfig struct {
	LoginURL         string `yaml:"login_url"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	UsernameSelector string `yaml:"username_selector"`
	PasswordSelector string `yaml:"password_selector"`
	SubmitSelector   string `yaml:"submit_selector"`
	// SuccessMarker must appear in the URL reached after submitting.
	SuccessMarker string `yaml:"success_marker"`
	// LoginMarker must not appear in that URL.
	LoginMarker string `yaml:"login_marker"`
}

// Configured reports whether credentials are present.
func (a AuthConfig) Configured() bool { return a.Username != "" }

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Bin              string   `yaml:"bin"`
	Headful          bool     `yaml:"headful"`
	Stealth          bool     `yaml:"stealth"`
	NoSandbox        bool     `yaml:"no_sandbox"`
	IgnoreCertErrors bool     `yaml:"ignore_cert_errors"`
	Flags            []string `yaml:"flags"`
}

// ScreenshotConfig controls the persisted image.
type ScreenshotConfig struct {
	Type     string        `yaml:"type"` // png | jpeg | webp
	Quality  int           `yaml:"quality"`
	FullPage *bool         `yaml:"full_page"`
	Timeout  time.Duration `yaml:"timeout"`
}

// IsFullPage defaults to true.
func (s ScreenshotConfig) IsFullPage() bool { return s.FullPage == nil || *s.FullPage }

// Ext returns the file extension for the configured type.
func (s ScreenshotConfig) Ext() string { return s.Type }

// Defaults of the optional numeric settings where zero is a valid choice.
const (
	DefaultAfterPageLoad    = 1500 * time.Millisecond
	DefaultBeforeScreenshot = 500 * time.Millisecond
	DefaultBetweenPages     = 300 * time.Millisecond
	DefaultThreshold        = 0.2
	DefaultAlpha            = 0.1
)

// DelayConfig holds the settle delays of the capture sequence. A nil
// field takes its default; an explicit 0s disables the wait.
type DelayConfig struct {
	AfterPageLoad    *time.Duration `yaml:"after_page_load"`
	BeforeScreenshot *time.Duration `yaml:"before_screenshot"`
	BetweenPages     *time.Duration `yaml:"between_pages"`
}

func (d DelayConfig) GetAfterPageLoad() time.Duration {
	return valueOr(d.AfterPageLoad, DefaultAfterPageLoad)
}

func (d DelayConfig) GetBeforeScreenshot() time.Duration {
	return valueOr(d.BeforeScreenshot, DefaultBeforeScreenshot)
}

func (d DelayConfig) GetBetweenPages() time.Duration {
	return valueOr(d.BetweenPages, DefaultBetweenPages)
}

// ComparisonConfig tunes the pixel diff.
type ComparisonConfig struct {
	// Threshold is the per-pixel color sensitivity in [0,1]; lower is
	// stricter and 0 means exact match.
	Threshold *float64 `yaml:"threshold"`
	IncludeAA bool     `yaml:"include_aa"`
	// Alpha is the opacity of unchanged pixels in the diff image.
	Alpha     *float64 `yaml:"alpha"`
	DiffColor []int    `yaml:"diff_color"`
	AAColor   []int    `yaml:"aa_color"`
}

func (c ComparisonConfig) GetThreshold() float64 { return valueOr(c.Threshold, DefaultThreshold) }

func (c ComparisonConfig) GetAlpha() float64 { return valueOr(c.Alpha, DefaultAlpha) }

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func setDefault[T any](p **T, def T) {
	if *p == nil {
		*p = &def
	}
}

// PerformanceConfig trades fidelity for speed.
type PerformanceConfig struct {
	BlockResources   []string `yaml:"block_resources"`
	BlockURLPatterns []string `yaml:"block_url_patterns"`
	MaxConcurrency   int      `yaml:"max_concurrency"`
}

// PathsConfig locates outputs.
type PathsConfig struct {
	Screenshots string `yaml:"screenshots"`
	Reports     string `yaml:"reports"`
	History     string `yaml:"history"`
}

// ModeDir returns the screenshot directory of a capture mode.
func (p PathsConfig) ModeDir(mode matrix.Mode) string {
	return filepath.Join(p.Screenshots, string(mode))
}

// DiffDir returns the diff image directory.
func (p PathsConfig) DiffDir() string { return filepath.Join(p.Screenshots, "diff") }

// SuppressConfig extends the built-in dynamic-content selectors.
type SuppressConfig struct {
	Selectors []string `yaml:"selectors"`
}

// LoadFile reads a YAML configuration file, applies environment overrides
// and defaults, then validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes the same way LoadFile does.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("VISREG_BASE_URL"); v != "" {
		c.Site = v
	}
	if v := os.Getenv("VISREG_USERNAME"); v != "" {
		c.Auth.Username = v
	}
	if v := os.Getenv("VISREG_PASSWORD"); v != "" {
		c.Auth.Password = v
	}
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	c.Site = strings.TrimRight(c.Site, "/")

	if c.Auth.LoginURL == "" {
		c.Auth.LoginURL = "/wp-admin"
	}
	if c.Auth.UsernameSelector == "" {
		c.Auth.UsernameSelector = "#user_login"
	}
	if c.Auth.PasswordSelector == "" {
		c.Auth.PasswordSelector = "#user_pass"
	}
	if c.Auth.SubmitSelector == "" {
		c.Auth.SubmitSelector = "#wp-submit"
	}
	if c.Auth.SuccessMarker == "" {
		c.Auth.SuccessMarker = "wp-admin"
	}
	if c.Auth.LoginMarker == "" {
		c.Auth.LoginMarker = "wp-login"
	}

	if c.Screenshot.Type == "" {
		c.Screenshot.Type = "png"
	}
	c.Screenshot.Type = strings.ToLower(c.Screenshot.Type)
	if c.Screenshot.Type == "jpg" {
		c.Screenshot.Type = "jpeg"
	}
	if c.Screenshot.Quality <= 0 {
		c.Screenshot.Quality = 90
	}
	if c.Screenshot.Timeout <= 0 {
		c.Screenshot.Timeout = 60 * time.Second
	}

	setDefault(&c.Delays.AfterPageLoad, DefaultAfterPageLoad)
	setDefault(&c.Delays.BeforeScreenshot, DefaultBeforeScreenshot)
	setDefault(&c.Delays.BetweenPages, DefaultBetweenPages)

	setDefault(&c.Comparison.Threshold, DefaultThreshold)
	setDefault(&c.Comparison.Alpha, DefaultAlpha)
	if len(c.Comparison.DiffColor) == 0 {
		c.Comparison.DiffColor = []int{255, 0, 255}
	}
	if len(c.Comparison.AAColor) == 0 {
		c.Comparison.AAColor = []int{255, 255, 0}
	}

	if c.Performance.BlockResources == nil {
		c.Performance.BlockResources = []string{"font", "image"}
	}
	if c.Performance.BlockURLPatterns == nil {
		c.Performance.BlockURLPatterns = []string{
			"google-analytics", "facebook.net", "twitter.com",
			"googletagmanager", "doubleclick.net",
		}
	}
	if c.Performance.MaxConcurrency <= 0 {
		c.Performance.MaxConcurrency = 1
	}

	if c.Paths.Screenshots == "" {
		c.Paths.Screenshots = "screenshots"
	}
	if c.Paths.Reports == "" {
		c.Paths.Reports = "reports"
	}
	if c.Paths.History == "" {
		c.Paths.History = filepath.Join(c.Paths.Reports, "history.db")
	}

	if len(c.Devices) == 0 {
		c.Devices = DefaultDevices()
	}
	for i := range c.Devices {
		if c.Devices[i].ScaleFactor <= 0 {
			c.Devices[i].ScaleFactor = 1
		}
	}
}

// Validate checks the settings that would otherwise fail mid-run.
func (c *Config) Validate() error {
	if c.Site == "" {
		return fmt.Errorf("%w: site is required", ErrInvalid)
	}
	u, err := url.Parse(c.Site)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: site %q is not an http(s) URL", ErrInvalid, c.Site)
	}
	switch c.Screenshot.Type {
	case "png", "jpeg", "webp":
	default:
		return fmt.Errorf("%w: screenshot.type %q (want png, jpeg or webp)", ErrInvalid, c.Screenshot.Type)
	}
	if c.Screenshot.Quality > 100 {
		return fmt.Errorf("%w: screenshot.quality %d out of range", ErrInvalid, c.Screenshot.Quality)
	}
	if v := c.Comparison.GetThreshold(); v < 0 || v > 1 {
		return fmt.Errorf("%w: comparison.threshold %v out of [0,1]", ErrInvalid, v)
	}
	if v := c.Comparison.GetAlpha(); v < 0 || v > 1 {
		return fmt.Errorf("%w: comparison.alpha %v out of [0,1]", ErrInvalid, v)
	}
	for name, d := range map[string]time.Duration{
		"after_page_load":   c.Delays.GetAfterPageLoad(),
		"before_screenshot": c.Delays.GetBeforeScreenshot(),
		"between_pages":     c.Delays.GetBetweenPages(),
	} {
		if d < 0 {
			return fmt.Errorf("%w: delays.%s %v is negative", ErrInvalid, name, d)
		}
	}
	for name, rgb := range map[string][]int{"diff_color": c.Comparison.DiffColor, "aa_color": c.Comparison.AAColor} {
		if len(rgb) != 3 {
			return fmt.Errorf("%w: comparison.%s needs 3 components", ErrInvalid, name)
		}
		for _, v := range rgb {
			if v < 0 || v > 255 {
				return fmt.Errorf("%w: comparison.%s component %d out of range", ErrInvalid, name, v)
			}
		}
	}
	if c.Auth.Configured() && c.Auth.Password == "" {
		return fmt.Errorf("%w: auth.password is required with auth.username", ErrInvalid)
	}
	for _, d := range c.Devices {
		if d.Name == "" || d.Viewport.Width <= 0 || d.Viewport.Height <= 0 {
			return fmt.Errorf("%w: device %q needs a name and a positive viewport", ErrInvalid, d.Name)
		}
	}
	return nil
}

// SuiteNames lists configured suites in name order.
func (c *Config) SuiteNames() []string {
	names := make([]string, 0, len(c.Suites))
	for n := range c.Suites {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Pages returns the flattened page list of a suite. An empty suite name
// selects the homepage only.
func (c *Config) Pages(suite string) ([]matrix.PageDescriptor, error) {
	if suite == "" {
		return []matrix.PageDescriptor{{
			Name:        "homepage",
			Path:        "/",
			Description: "Homepage",
			Category:    "general",
		}}, nil
	}
	catalog, ok := c.Suites[suite]
	if !ok {
		return nil, fmt.Errorf("%w: unknown suite %q (available: %s)",
			ErrInvalid, suite, strings.Join(c.SuiteNames(), ", "))
	}
	return matrix.Flatten(catalog), nil
}

// Matrix builds the capture matrix of a suite.
func (c *Config) Matrix(suite string) (matrix.Matrix, error) {
	pages, err := c.Pages(suite)
	if err != nil {
		return matrix.Matrix{}, err
	}
	m, err := matrix.Build(pages, c.Devices)
	if err != nil {
		return matrix.Matrix{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return m, nil
}

// URL joins the site with a site-relative path.
func (c *Config) URL(path string) string {
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.Site + path
}
