// Package capture drives a browser session over a page × device matrix
// and persists one screenshot per cell, plus a per-mode result log.
package capture

import (
	"context"

	"github.com/hazyhaar/visreg/capture/internal/browser"
	"github.com/hazyhaar/visreg/matrix"
)

// NavigateOptions bounds a navigation or a submit.
type NavigateOptions = browser.NavigateOptions

// ScreenshotOptions selects the persisted image.
type ScreenshotOptions = browser.ScreenshotOptions

// HTTPStatusError reports a document answered outside 2xx.
type HTTPStatusError = browser.HTTPStatusError

// Surface is one browsing surface (a tab). A Surface is used by a single
// goroutine at a time.
type Surface interface {
	Configure(ctx context.Context, d matrix.DeviceProfile) error
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	// Eval runs a JavaScript function expression, e.g. "() => {...}".
	Eval(ctx context.Context, js string) error
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Fill(ctx context.Context, selector, value string) error
	Submit(ctx context.Context, selector string, opts NavigateOptions) error
	URL(ctx context.Context) (string, error)
	Close() error
}

// Session hands out surfaces that share cookies, so an authentication
// performed on one surface holds for all of them.
type Session interface {
	NewSurface(ctx context.Context) (Surface, error)
	// SupportsIsolation reports whether surfaces can work concurrently
	// without interfering.
	SupportsIsolation() bool
	Close() error
}

// Opener starts a Session.
type Opener func(ctx context.Context) (Session, error)
