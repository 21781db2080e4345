package capture

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/visreg/capture/internal/browser"
	"github.com/hazyhaar/visreg/config"
)

// RodOpener returns an Opener backed by a Chrome instance driven by Rod.
func RodOpener(cfg *config.Config, logger *slog.Logger) Opener {
	return func(ctx context.Context) (Session, error) {
		m := browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Bin:              cfg.Browser.Bin,
			Headful:          cfg.Browser.Headful,
			Stealth:          cfg.Browser.Stealth,
			NoSandbox:        cfg.Browser.NoSandbox,
			IgnoreCertErrors: cfg.Browser.IgnoreCertErrors,
			Flags:            cfg.Browser.Flags,
			BlockResources:   cfg.Performance.BlockResources,
			BlockURLPatterns: cfg.Performance.BlockURLPatterns,
			Logger:           logger,
		})
		if err := m.Start(ctx); err != nil {
			return nil, err
		}
		return &rodSession{mgr: m}, nil
	}
}

type rodSession struct {
	mgr *browser.Manager
}

func (s *rodSession) NewSurface(ctx context.Context) (Surface, error) {
	t, err := s.mgr.OpenTab(ctx)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Tabs of one Chrome render independently.
func (s *rodSession) SupportsIsolation() bool { return true }

func (s *rodSession) Close() error { return s.mgr.Close() }
