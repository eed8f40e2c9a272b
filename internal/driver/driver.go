// Package driver defines the remote-control primitives the command chain is
// built on. Backends live in subpackages: pwdriver (Playwright), cdpdriver
// (chromedp), roddriver (go-rod) and htmldriver (in-process, for tests).
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
)

// ErrClosed is returned by every method of a driver after Close.
var ErrClosed = errs.New(errs.FailedPrecondition, "browser session is closed")

// ElementState is the result of one DOM query.
type ElementState struct {
	// Count is the number of matching elements.
	Count int
	// Visible reports whether the first match is rendered and visible.
	Visible bool
}

// Present reports whether at least one element matched.
func (s ElementState) Present() bool {
	return s.Count > 0
}

// Driver is one remote browser session. Implementations are not safe for
// concurrent use; a session belongs to a single chain.
type Driver interface {
	// Navigate loads url and returns once the browser reports the load event.
	Navigate(ctx context.Context, url string) error
	// Find queries the current document without waiting.
	Find(ctx context.Context, loc locator.Locator) (ElementState, error)
	// Click clicks the first match. A missing element is errs.NotFound.
	Click(ctx context.Context, loc locator.Locator) error
	// SetValue clears the first match and types value into it.
	SetValue(ctx context.Context, loc locator.Locator, value string) error
	// SelectOption picks value in a native select by value or label. A text
	// input is cleared, given value and sent Enter. Any other element is
	// treated as a dropdown widget: it is clicked, and value plus Enter goes
	// to the first text input inside it. A widget without one is
	// errs.InvalidArgument.
	SelectOption(ctx context.Context, loc locator.Locator, value string) error
	// Close ends the session. Closing twice is a no-op.
	Close() error
}

// Kind names a backend.
type Kind string

const (
	Playwright Kind = "playwright"
	Chromedp   Kind = "chromedp"
	Rod        Kind = "rod"
)

// ParseKind accepts a backend name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Playwright, Chromedp, Rod:
		return k, nil
	case "":
		return Playwright, nil
	}
	return "", errs.New(errs.InvalidArgument, fmt.Sprintf("unknown browser driver %q (want playwright, chromedp or rod)", s))
}

// Options are shared by the browser-backed drivers.
type Options struct {
	// RemoteURL attaches to an already running browser (a Playwright ws
	// endpoint or a CDP URL). Empty launches a local browser.
	RemoteURL string
	Headless  bool
}

// NotFound builds the error backends return when an element to act on is
// missing.
func NotFound(action string, loc locator.Locator) error {
	return errs.New(errs.NotFound, fmt.Sprintf("%s: no element matches %s", action, loc))
}

// NoTextInput is returned by SelectOption for a widget with nothing to type
// into.
func NoTextInput(loc locator.Locator) error {
	return errs.New(errs.InvalidArgument, fmt.Sprintf("select option: %s is neither a select nor holds a text input", loc))
}

// Unavailable wraps a protocol failure. Context expiry is reported as a
// timeout and ErrClosed passes through unchanged.
func Unavailable(ctx context.Context, action string, loc locator.Locator, err error) error {
	if errors.Is(err, ErrClosed) {
		return err
	}
	msg := action
	if !loc.IsZero() {
		msg = fmt.Sprintf("%s %s", action, loc)
	}
	if ctx.Err() != nil {
		return errs.Wrap(errs.Timeout, msg, err)
	}
	return errs.Wrap(errs.Unavailable, msg, err)
}
