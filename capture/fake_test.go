package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/visreg/matrix"
)

// fakeSession is an in-memory Session. Surfaces share one cookie flag so a
// login on one is visible on all, like tabs of one browser.
type fakeSession struct {
	isolated bool
	// failURL maps a URL substring to the navigation error it triggers.
	failURL map[string]error
	// landing is the URL reached after submitting the login form.
	landing  string
	fillErr  error
	surfaceN int // max surfaces; 0 = unlimited

	mu        sync.Mutex
	surfaces  []*fakeSurface
	active    int
	maxActive int
	navigated []string
	closed    bool
	loggedIn  bool
}

func (s *fakeSession) open(context.Context) (Session, error) { return s, nil }

func (s *fakeSession) NewSurface(context.Context) (Surface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.surfaceN > 0 && len(s.surfaces) >= s.surfaceN {
		return nil, errors.New("no more tabs")
	}
	f := &fakeSurface{sess: s}
	s.surfaces = append(s.surfaces, f)
	return f, nil
}

func (s *fakeSession) SupportsIsolation() bool { return s.isolated }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeSurface struct {
	sess   *fakeSession
	url    string
	device matrix.DeviceProfile
	fills  map[string]string
	evals  []string
	closed bool
}

func (f *fakeSurface) Configure(_ context.Context, d matrix.DeviceProfile) error {
	f.device = d
	f.sess.mu.Lock()
	f.sess.active++
	f.sess.maxActive = max(f.sess.maxActive, f.sess.active)
	f.sess.mu.Unlock()
	return nil
}

func (f *fakeSurface) Navigate(ctx context.Context, url string, _ NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		f.release()
		return err
	}
	f.sess.mu.Lock()
	f.sess.navigated = append(f.sess.navigated, url)
	f.sess.mu.Unlock()
	for sub, err := range f.sess.failURL {
		if strings.Contains(url, sub) {
			f.release()
			return err
		}
	}
	f.url = url
	time.Sleep(2 * time.Millisecond)
	return nil
}

func (f *fakeSurface) Eval(_ context.Context, js string) error {
	f.evals = append(f.evals, js)
	return nil
}

func (f *fakeSurface) Screenshot(_ context.Context, opts ScreenshotOptions) ([]byte, error) {
	f.release()
	return []byte(opts.Format + ":" + f.device.Name + ":" + f.url), nil
}

func (f *fakeSurface) release() {
	f.sess.mu.Lock()
	if f.sess.active > 0 {
		f.sess.active--
	}
	f.sess.mu.Unlock()
}

func (f *fakeSurface) Fill(_ context.Context, selector, value string) error {
	if f.sess.fillErr != nil {
		return f.sess.fillErr
	}
	if f.fills == nil {
		f.fills = map[string]string{}
	}
	f.fills[selector] = value
	return nil
}

func (f *fakeSurface) Submit(context.Context, string, NavigateOptions) error {
	f.url = f.sess.landing
	f.sess.mu.Lock()
	f.sess.loggedIn = strings.Contains(f.sess.landing, "wp-admin")
	f.sess.mu.Unlock()
	return nil
}

func (f *fakeSurface) URL(context.Context) (string, error) { return f.url, nil }

func (f *fakeSurface) Close() error {
	f.closed = true
	return nil
}
