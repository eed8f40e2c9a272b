// Package pwdriver implements driver.Driver with Playwright.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
	"github.com/kuitang/dashboard-e2e/internal/obs"
)

// fallbackTimeout applies to calls whose context carries no deadline.
const fallbackTimeout = 30 * time.Second

// Driver drives one Playwright page.
type Driver struct {
	page playwright.Page

	mu     sync.Mutex
	closed bool
	// release tears down what Open created: the browser and the runtime.
	release func() error
}

var _ driver.Driver = (*Driver)(nil)

// Open starts Playwright and opens a page in a new Chromium, or in the
// browser at opts.RemoteURL: a ws:// Playwright server or an http:// CDP
// endpoint.
func Open(ctx context.Context, opts driver.Options) (*Driver, error) {
	log := obs.From(ctx).With("pkg", "pwdriver")
	start := time.Now()

	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "start playwright", err)
	}

	var browser playwright.Browser
	switch {
	case opts.RemoteURL == "":
		browser, err = pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(opts.Headless),
		})
	case strings.HasPrefix(opts.RemoteURL, "ws://"), strings.HasPrefix(opts.RemoteURL, "wss://"):
		browser, err = pw.Chromium.Connect(opts.RemoteURL)
	default:
		browser, err = pw.Chromium.ConnectOverCDP(opts.RemoteURL)
	}
	if err != nil {
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "open chromium", err)
	}

	page, err := browser.NewPage()
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, errs.Wrap(errs.Unavailable, "open page", err)
	}

	log.Info("browser_open",
		"driver", string(driver.Playwright),
		"remote", opts.RemoteURL != "",
		"headless", opts.Headless,
		"dur_ms", obs.DurMS(start),
	)
	d := Wrap(page)
	d.release = func() error {
		return errors.Join(browser.Close(), pw.Stop())
	}
	return d, nil
}

// Wrap drives an existing page. Close closes only the page.
func Wrap(page playwright.Page) *Driver {
	return &Driver{page: page}
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.check(); err != nil {
		return err
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeoutMS(ctx),
	})
	if err != nil {
		return wrap(ctx, "navigate "+url, locator.Locator{}, err)
	}
	return nil
}

func (d *Driver) Find(ctx context.Context, loc locator.Locator) (driver.ElementState, error) {
	if err := d.check(); err != nil {
		return driver.ElementState{}, err
	}
	l := d.page.Locator(loc.String())
	count, err := l.Count()
	if err != nil {
		return driver.ElementState{}, wrap(ctx, "find", loc, err)
	}
	state := driver.ElementState{Count: count}
	if count == 0 {
		return state, nil
	}
	// IsVisible does not wait; an element detached between the two calls
	// reads as invisible.
	state.Visible, err = l.First().IsVisible()
	if err != nil {
		return driver.ElementState{}, wrap(ctx, "find", loc, err)
	}
	return state, nil
}

func (d *Driver) Click(ctx context.Context, loc locator.Locator) error {
	first, err := d.first(ctx, "click", loc)
	if err != nil {
		return err
	}
	if err := first.Click(playwright.LocatorClickOptions{Timeout: timeoutMS(ctx)}); err != nil {
		return wrap(ctx, "click", loc, err)
	}
	return nil
}

func (d *Driver) SetValue(ctx context.Context, loc locator.Locator, value string) error {
	first, err := d.first(ctx, "set value", loc)
	if err != nil {
		return err
	}
	if err := first.Fill(value, playwright.LocatorFillOptions{Timeout: timeoutMS(ctx)}); err != nil {
		return wrap(ctx, "set value", loc, err)
	}
	return nil
}

func (d *Driver) SelectOption(ctx context.Context, loc locator.Locator, value string) error {
	first, err := d.first(ctx, "select option", loc)
	if err != nil {
		return err
	}
	kind, err := first.Evaluate(controlKindJS, nil, playwright.LocatorEvaluateOptions{Timeout: timeoutMS(ctx)})
	if err != nil {
		return wrap(ctx, "select option", loc, err)
	}

	target := first
	switch kind {
	case "select":
		_, err = first.SelectOption(playwright.SelectOptionValues{
			ValuesOrLabels: playwright.StringSlice(value),
		}, playwright.LocatorSelectOptionOptions{Timeout: timeoutMS(ctx)})
		if err != nil {
			return wrap(ctx, "select option", loc, err)
		}
		return nil
	case "widget":
		if err := first.Click(playwright.LocatorClickOptions{Timeout: timeoutMS(ctx)}); err != nil {
			return wrap(ctx, "select option", loc, err)
		}
		target = first.Locator("input, textarea").First()
		n, err := target.Count()
		if err != nil {
			return wrap(ctx, "select option", loc, err)
		}
		if n == 0 {
			return driver.NoTextInput(loc)
		}
	}

	if err := target.Fill(value, playwright.LocatorFillOptions{Timeout: timeoutMS(ctx)}); err != nil {
		return wrap(ctx, "select option", loc, err)
	}
	if err := target.Press("Enter", playwright.LocatorPressOptions{Timeout: timeoutMS(ctx)}); err != nil {
		return wrap(ctx, "select option", loc, err)
	}
	return nil
}

// controlKindJS sorts a SelectOption target into "select", "editable" or
// "widget".
const controlKindJS = `el => {
  if (el.tagName === "SELECT") return "select";
  if (el.tagName === "INPUT" || el.tagName === "TEXTAREA" || el.isContentEditable) return "editable";
  return "widget";
}`

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.release != nil {
		return d.release()
	}
	return d.page.Close()
}

func (d *Driver) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.ErrClosed
	}
	return nil
}

// first returns the first match, or errs.NotFound without waiting when
// nothing matches.
func (d *Driver) first(ctx context.Context, action string, loc locator.Locator) (playwright.Locator, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	l := d.page.Locator(loc.String())
	count, err := l.Count()
	if err != nil {
		return nil, wrap(ctx, action, loc, err)
	}
	if count == 0 {
		return nil, driver.NotFound(action, loc)
	}
	return l.First(), nil
}

// timeoutMS converts the context deadline into Playwright's millisecond
// timeout option.
func timeoutMS(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return playwright.Float(float64(fallbackTimeout.Milliseconds()))
	}
	remaining := time.Until(deadline)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	return playwright.Float(float64(remaining.Milliseconds()))
}

func wrap(ctx context.Context, action string, loc locator.Locator, err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		msg := action
		if !loc.IsZero() {
			msg = fmt.Sprintf("%s %s", action, loc)
		}
		return errs.Wrap(errs.Timeout, msg, err)
	}
	return driver.Unavailable(ctx, action, loc, err)
}
