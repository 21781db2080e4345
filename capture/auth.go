package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/visreg/config"
)

// ErrAuthFailed is logged when the login does not reach an authenticated
// page. The run continues unauthenticated.
var ErrAuthFailed = errors.New("capture: authentication failed")

// AuthState tracks the login of a capture run.
type AuthState int

const (
	AuthUnconfigured AuthState = iota
	AuthSubmitting
	AuthAuthenticated
	AuthFailed
)

func (s AuthState) String() string {
	switch s {
	case AuthUnconfigured:
		return "unconfigured"
	case AuthSubmitting:
		return "submitting"
	case AuthAuthenticated:
		return "authenticated"
	case AuthFailed:
		return "failed"
	}
	return fmt.Sprintf("AuthState(%d)", int(s))
}

const fieldTimeout = 10 * time.Second

// authenticate logs in through s. The returned error, if any, wraps
// ErrAuthFailed.
func authenticate(ctx context.Context, s Surface, site string, auth config.AuthConfig, timeout time.Duration) (AuthState, error) {
	if !auth.Configured() {
		return AuthUnconfigured, nil
	}

	fail := func(step string, err error) (AuthState, error) {
		return AuthFailed, fmt.Errorf("%w: %s: %v", ErrAuthFailed, step, err)
	}

	loginURL := auth.LoginURL
	if !strings.HasPrefix(loginURL, "http://") && !strings.HasPrefix(loginURL, "https://") {
		if !strings.HasPrefix(loginURL, "/") {
			loginURL = "/" + loginURL
		}
		loginURL = site + loginURL
	}

	nav := NavigateOptions{Timeout: timeout}
	if err := s.Navigate(ctx, loginURL, nav); err != nil {
		return fail("open login page", err)
	}

	fctx, cancel := context.WithTimeout(ctx, fieldTimeout)
	defer cancel()
	if err := s.Fill(fctx, auth.UsernameSelector, auth.Username); err != nil {
		return fail("username", err)
	}
	if err := s.Fill(fctx, auth.PasswordSelector, auth.Password); err != nil {
		return fail("password", err)
	}
	if err := s.Submit(ctx, auth.SubmitSelector, nav); err != nil {
		return fail("submit", err)
	}

	landed, err := s.URL(ctx)
	if err != nil {
		return fail("read location", err)
	}
	if !strings.Contains(landed, auth.SuccessMarker) || (auth.LoginMarker != "" && strings.Contains(landed, auth.LoginMarker)) {
		return AuthFailed, fmt.Errorf("%w: landed on %s", ErrAuthFailed, landed)
	}
	return AuthAuthenticated, nil
}
