package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/visreg/matrix"
)

// NavigateOptions bounds a navigation.
type NavigateOptions struct {
	// Timeout covers loading and reaching network idle.
	Timeout time.Duration
	// Idle is how long the network must stay quiet. Default: 500ms.
	Idle time.Duration
}

// ScreenshotOptions selects the persisted image.
type ScreenshotOptions struct {
	Format   string // png | jpeg | webp
	Quality  int
	FullPage bool
}

// HTTPStatusError is returned when the document answers outside 2xx.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("navigate %s: HTTP %d", e.URL, e.Status)
}

// Tab is one Chrome page used as a capture surface.
type Tab struct {
	page   *rod.Page
	router *rod.HijackRouter
	log    *slog.Logger
}

// Configure applies viewport and user agent of a device.
func (t *Tab) Configure(ctx context.Context, d matrix.DeviceProfile) error {
	p := t.page.Context(ctx)
	scale := d.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             d.Viewport.Width,
		Height:            d.Viewport.Height,
		DeviceScaleFactor: scale,
		Mobile:            d.Mobile,
	}); err != nil {
		return fmt.Errorf("browser: set viewport: %w", err)
	}
	if d.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.UserAgent}); err != nil {
			return fmt.Errorf("browser: set user agent: %w", err)
		}
	}
	return nil
}

const statusScript = `() => {
	const n = performance.getEntriesByType('navigation')[0];
	return n && n.responseStatus ? n.responseStatus : 0;
}`

// Navigate loads url and waits until the network has been idle for
// opts.Idle. Reaching opts.Timeout first is an error, as is a document
// status outside 2xx.
func (t *Tab) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if opts.Idle <= 0 {
		opts.Idle = 500 * time.Millisecond
	}
	navCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	p := t.page.Context(navCtx)
	wait := p.WaitRequestIdle(opts.Idle, nil, nil, nil)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	wait()
	if err := navCtx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("navigate %s: timeout after %s waiting for network idle", url, opts.Timeout)
		}
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	res, err := t.page.Context(ctx).Eval(statusScript)
	if err != nil {
		t.log.Debug("browser: status probe failed", "url", url, "error", err)
		return nil
	}
	if status := res.Value.Int(); status != 0 && status != 304 && (status < 200 || status > 299) {
		return &HTTPStatusError{URL: url, Status: status}
	}
	return nil
}

// Eval runs a JavaScript function expression in the page, awaiting a
// returned promise.
func (t *Tab) Eval(ctx context.Context, js string) error {
	if _, err := t.page.Context(ctx).Eval(js); err != nil {
		return fmt.Errorf("browser: eval: %w", err)
	}
	return nil
}

// Screenshot captures the page.
func (t *Tab) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormat(opts.Format)}
	if opts.Format != "png" && opts.Quality > 0 {
		q := opts.Quality
		req.Quality = &q
	}
	data, err := t.page.Context(ctx).Screenshot(opts.FullPage, req)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// Fill types value into the first element matching selector.
func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	el, err := t.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("browser: input %s: %w", selector, err)
	}
	return nil
}

// Submit clicks selector and waits for the resulting navigation.
func (t *Tab) Submit(ctx context.Context, selector string, opts NavigateOptions) error {
	navCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	p := t.page.Context(navCtx)
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	wait := p.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", selector, err)
	}
	wait()
	if err := navCtx.Err(); err != nil {
		return fmt.Errorf("browser: submit %s: %w", selector, err)
	}
	return nil
}

// URL returns the current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	info, err := t.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		if err := t.router.Stop(); err != nil {
			t.log.Debug("browser: stop hijack router", "error", err)
		}
		t.router = nil
	}
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}
