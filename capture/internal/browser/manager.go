// Package browser drives headless Chrome through Rod: launch or connect,
// open tabs with request blocking, and expose the handful of page
// operations the capture sequence needs.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin overrides the Chrome binary. Empty = launcher lookup/download.
	Bin string

	Headful          bool
	Stealth          bool
	NoSandbox        bool
	IgnoreCertErrors bool

	// Flags are extra Chrome switches, "name" or "name=value".
	Flags []string

	// BlockResources lists resource types to abort (font, image, media...).
	BlockResources []string

	// BlockURLPatterns aborts any request whose URL contains one of them.
	BlockURLPatterns []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process (or remote connection) for a run.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome or connects to the remote instance.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return nil
	}

	log := m.cfg.Logger
	var wsURL string

	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).Headless(!m.cfg.Headful)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.NoSandbox {
			l = l.NoSandbox(true)
		}
		// Stable rendering between runs.
		l = l.Set("force-device-scale-factor", "1").
			Set("disable-background-timer-throttling").
			Set("disable-backgrounding-occluded-windows").
			Set("disable-renderer-backgrounding").
			Set("disable-dev-shm-usage")
		if m.cfg.Stealth {
			l = l.Set("disable-blink-features", "AutomationControlled")
		}
		for _, f := range m.cfg.Flags {
			name, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
			if hasValue {
				l = l.Set(flags.Flag(name), value)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanup()
		return fmt.Errorf("browser: connect: %w", err)
	}

	if m.cfg.IgnoreCertErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			log.Warn("browser: ignore cert errors failed", "error", err)
		}
	}

	m.browser = b
	return nil
}

// OpenTab creates a new tab in the shared browser context, so cookies set
// by a login in one tab are visible to all tabs.
func (m *Manager) OpenTab(ctx context.Context) (*Tab, error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if m.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{page: page, log: m.cfg.Logger}
	if len(m.cfg.BlockResources) > 0 || len(m.cfg.BlockURLPatterns) > 0 {
		t.router = applyBlocking(page, newBlockRules(m.cfg.BlockResources, m.cfg.BlockURLPatterns))
	}
	return t, nil
}

// Close shuts Chrome down. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}
