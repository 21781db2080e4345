package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/matrix"
)

// Options configures an Orchestrator.
type Options struct {
	Config *config.Config
	Open   Opener
	Logger *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// Orchestrator captures a matrix through a Session.
type Orchestrator struct {
	cfg  *config.Config
	open Opener
	log  *slog.Logger
	now  func() time.Time

	suppress string
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Open == nil {
		opts.Open = RodOpener(opts.Config, opts.Logger)
	}
	return &Orchestrator{
		cfg:      opts.Config,
		open:     opts.Open,
		log:      opts.Logger,
		now:      opts.Now,
		suppress: suppressScript(SuppressSelectors(opts.Config.Suppress.Selectors)),
	}
}

// Run captures every cell of m into the directory of mode and writes the
// result log. Per-cell failures are recorded, never returned. The error
// return is reserved for resource failures (directories, session) and
// for cancellation, in which case the partial log is still written.
func (o *Orchestrator) Run(ctx context.Context, mode matrix.Mode, m matrix.Matrix) (*ResultLog, error) {
	dir := o.cfg.Paths.ModeDir(mode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture: create %s: %w", dir, err)
	}

	log := &ResultLog{Mode: mode, Timestamp: o.now().UTC(), Site: o.cfg.Site, Auth: AuthUnconfigured.String()}
	results := make([]Result, m.Len())

	if m.Len() == 0 {
		log.Results = results
		return log, WriteResultLog(o.cfg.Paths.Reports, log)
	}

	sess, err := o.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: open session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			o.log.Warn("capture: close session", "error", err)
		}
	}()

	surfaces, err := o.openSurfaces(ctx, sess, m.Len())
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, s := range surfaces {
			s.Close()
		}
	}()

	if o.cfg.Auth.Configured() {
		o.log.Info("capture: authenticating", "user", o.cfg.Auth.Username, "state", AuthSubmitting.String())
	}
	state, err := authenticate(ctx, surfaces[0], o.cfg.Site, o.cfg.Auth, o.cfg.Screenshot.Timeout)
	if err != nil {
		o.log.Warn("capture: continuing unauthenticated", "error", err)
	} else if state == AuthAuthenticated {
		o.log.Info("capture: authenticated", "user", o.cfg.Auth.Username)
	}
	log.Auth = state.String()

	o.log.Info("capture: starting",
		"mode", mode, "cells", m.Len(), "pages", len(m.Pages), "devices", len(m.Devices), "workers", len(surfaces))

	pool := make(chan Surface, len(surfaces))
	for _, s := range surfaces {
		pool <- s
	}

	var g errgroup.Group
	g.SetLimit(len(surfaces))
	dispatched := 0
	for i, cell := range m.Cells {
		if ctx.Err() != nil {
			break
		}
		dispatched = i + 1
		g.Go(func() error {
			s := <-pool
			defer func() { pool <- s }()
			results[i] = o.captureCell(ctx, s, dir, cell)
			o.sleep(ctx, o.cfg.Delays.GetBetweenPages())
			return nil
		})
	}
	g.Wait()

	for i := dispatched; i < m.Len(); i++ {
		results[i] = o.newResult(dir, m.Cells[i])
		results[i].Error = ctx.Err().Error()
	}

	idx := matrix.Index{}
	for i, r := range results {
		if r.Success {
			idx.Add(r.Filename, m.Cells[i])
		}
	}
	if err := matrix.WriteIndex(dir, idx); err != nil {
		o.log.Warn("capture: write index", "error", err)
	}

	log.Results = results
	log.Summary = summarize(results)
	o.log.Info("capture: done",
		"mode", mode, "total", log.Summary.Total, "successful", log.Summary.Successful, "failed", log.Summary.Failed)

	if err := WriteResultLog(o.cfg.Paths.Reports, log); err != nil {
		return log, err
	}
	if err := ctx.Err(); err != nil {
		return log, fmt.Errorf("capture: %w", err)
	}
	return log, nil
}

// openSurfaces creates up to max_concurrency surfaces. Without isolation,
// or when extra surfaces cannot be created, fewer workers are used.
func (o *Orchestrator) openSurfaces(ctx context.Context, sess Session, cells int) ([]Surface, error) {
	n := max(o.cfg.Performance.MaxConcurrency, 1)
	if n > 1 && !sess.SupportsIsolation() {
		o.log.Warn("capture: session cannot isolate surfaces, capturing sequentially", "requested", n)
		n = 1
	}
	n = min(n, cells)

	first, err := sess.NewSurface(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: open surface: %w", err)
	}
	surfaces := []Surface{first}
	for len(surfaces) < n {
		s, err := sess.NewSurface(ctx)
		if err != nil {
			o.log.Warn("capture: extra surface unavailable", "workers", len(surfaces), "error", err)
			break
		}
		surfaces = append(surfaces, s)
	}
	return surfaces, nil
}

func (o *Orchestrator) newResult(dir string, c matrix.Cell) Result {
	name := c.Filename(o.cfg.Screenshot.Ext())
	return Result{
		Filename: name,
		Filepath: filepath.Join(dir, name),
		URL:      o.cfg.URL(c.Page.Path),
		Page:     c.Page.Name,
		Device:   c.Device.Name,
		Category: c.Page.Category,
	}
}

func (o *Orchestrator) captureCell(ctx context.Context, s Surface, dir string, c matrix.Cell) Result {
	res := o.newResult(dir, c)
	start := o.now()

	err := o.captureSteps(ctx, s, c.Device, res)
	res.DurationMS = o.now().Sub(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		o.log.Warn("capture: cell failed", "page", res.Page, "device", res.Device, "url", res.URL, "error", err)
		return res
	}
	res.Success = true
	o.log.Info("capture: saved", "file", res.Filename, "duration_ms", res.DurationMS)
	return res
}

func (o *Orchestrator) captureSteps(ctx context.Context, s Surface, d matrix.DeviceProfile, res Result) error {
	if err := s.Configure(ctx, d); err != nil {
		return err
	}
	if err := s.Navigate(ctx, res.URL, NavigateOptions{Timeout: o.cfg.Screenshot.Timeout}); err != nil {
		return err
	}
	if err := o.sleep(ctx, o.cfg.Delays.GetAfterPageLoad()); err != nil {
		return err
	}
	if err := s.Eval(ctx, o.suppress); err != nil {
		return fmt.Errorf("suppress dynamic content: %w", err)
	}
	if err := s.Eval(ctx, scrollScript); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	if err := o.sleep(ctx, o.cfg.Delays.GetBeforeScreenshot()); err != nil {
		return err
	}
	data, err := s.Screenshot(ctx, ScreenshotOptions{
		Format:   o.cfg.Screenshot.Type,
		Quality:  o.cfg.Screenshot.Quality,
		FullPage: o.cfg.Screenshot.IsFullPage(),
	})
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("empty screenshot")
	}
	if err := os.WriteFile(res.Filepath, data, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
