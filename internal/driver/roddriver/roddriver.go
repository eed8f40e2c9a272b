// Package roddriver implements driver.Driver with go-rod.
package roddriver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
	"github.com/kuitang/dashboard-e2e/internal/obs"
)

// Driver drives one rod page.
type Driver struct {
	page    *rod.Page
	browser *rod.Browser
	lnch    *launcher.Launcher

	mu     sync.Mutex
	closed bool
}

var _ driver.Driver = (*Driver)(nil)

// Open launches a local Chrome through rod's launcher, or connects to
// opts.RemoteURL (a ws:// DevTools URL or an http:// endpoint that resolves
// to one), and opens a blank page.
func Open(ctx context.Context, opts driver.Options) (*Driver, error) {
	log := obs.From(ctx).With("pkg", "roddriver")
	start := time.Now()

	d := &Driver{}
	var wsURL string
	switch {
	case opts.RemoteURL == "":
		l := launcher.New().Context(ctx).Headless(opts.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, errs.Wrap(errs.Unavailable, "launch chrome", err)
		}
		wsURL = u
		d.lnch = l
	case strings.HasPrefix(opts.RemoteURL, "ws://"), strings.HasPrefix(opts.RemoteURL, "wss://"):
		wsURL = opts.RemoteURL
	default:
		u, err := launcher.ResolveURL(opts.RemoteURL)
		if err != nil {
			return nil, errs.Wrap(errs.Unavailable, "resolve devtools url", err)
		}
		wsURL = u
	}

	d.browser = rod.New().ControlURL(wsURL)
	if err := d.browser.Connect(); err != nil {
		_ = d.Close()
		return nil, errs.Wrap(errs.Unavailable, "connect chrome", err)
	}
	page, err := d.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		_ = d.Close()
		return nil, errs.Wrap(errs.Unavailable, "open page", err)
	}
	d.page = page

	log.Info("browser_open",
		"driver", string(driver.Rod),
		"remote", opts.RemoteURL != "",
		"headless", opts.Headless,
		"dur_ms", obs.DurMS(start),
	)
	return d, nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.check(); err != nil {
		return err
	}
	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return driver.Unavailable(ctx, "navigate "+url, locator.Locator{}, err)
	}
	if err := p.WaitLoad(); err != nil {
		return driver.Unavailable(ctx, "navigate "+url, locator.Locator{}, err)
	}
	return nil
}

func (d *Driver) Find(ctx context.Context, loc locator.Locator) (driver.ElementState, error) {
	els, err := d.elements(ctx, "find", loc)
	if err != nil {
		return driver.ElementState{}, err
	}
	state := driver.ElementState{Count: len(els)}
	if len(els) == 0 {
		return state, nil
	}
	state.Visible, err = els.First().Context(ctx).Visible()
	if err != nil {
		// The node went away between the two calls.
		if isGone(err) {
			return driver.ElementState{}, nil
		}
		return driver.ElementState{}, driver.Unavailable(ctx, "find", loc, err)
	}
	return state, nil
}

func (d *Driver) Click(ctx context.Context, loc locator.Locator) error {
	el, err := d.first(ctx, "click", loc)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return driver.Unavailable(ctx, "click", loc, err)
	}
	return nil
}

func (d *Driver) SetValue(ctx context.Context, loc locator.Locator, value string) error {
	el, err := d.first(ctx, "set value", loc)
	if err != nil {
		return err
	}
	if err := replaceText(el, value); err != nil {
		return driver.Unavailable(ctx, "set value", loc, err)
	}
	return nil
}

func (d *Driver) SelectOption(ctx context.Context, loc locator.Locator, value string) error {
	el, err := d.first(ctx, "select option", loc)
	if err != nil {
		return err
	}

	res, err := el.Eval(selectJS, value)
	if err != nil {
		return driver.Unavailable(ctx, "select option", loc, err)
	}
	switch res.Value.Str() {
	case "selected":
		return nil
	case "no-option":
		return errs.New(errs.NotFound, fmt.Sprintf("select option: %s has no option %q", loc, value))
	case "widget":
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return driver.Unavailable(ctx, "select option", loc, err)
		}
		inputs, err := el.Elements("input, textarea")
		if err != nil {
			return driver.Unavailable(ctx, "select option", loc, err)
		}
		if inputs.Empty() {
			return driver.NoTextInput(loc)
		}
		el = inputs.First().Context(ctx)
	}

	if err := replaceText(el, value); err != nil {
		return driver.Unavailable(ctx, "select option", loc, err)
	}
	if err := el.Type(input.Enter); err != nil {
		return driver.Unavailable(ctx, "select option", loc, err)
	}
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var err error
	if d.browser != nil {
		if d.lnch != nil {
			err = d.browser.Close()
		} else if d.page != nil {
			// A shared remote browser outlives the session; only the page goes.
			err = d.page.Close()
		}
	}
	if d.lnch != nil {
		d.lnch.Kill()
		d.lnch.Cleanup()
	}
	if err != nil {
		return errs.Wrap(errs.Unavailable, "close chrome", err)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// selectJS runs with this bound to the element. A native select takes the
// option by value, then by label. Text inputs come back as "editable" and
// anything else as "widget".
const selectJS = `function (want) {
  if (this.tagName === "INPUT" || this.tagName === "TEXTAREA" || this.isContentEditable) return "editable";
  if (this.tagName !== "SELECT") return "widget";
  const opts = Array.from(this.options);
  const opt = opts.find(o => o.value === want) ||
    opts.find(o => o.label === want || o.text.trim() === want);
  if (!opt) return "no-option";
  this.value = opt.value;
  this.dispatchEvent(new Event("input", {bubbles: true}));
  this.dispatchEvent(new Event("change", {bubbles: true}));
  return "selected";
}`

func (d *Driver) check() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return driver.ErrClosed
	}
	return nil
}

// elements queries without waiting; rod's Element and ElementX would retry
// until the context ends.
func (d *Driver) elements(ctx context.Context, action string, loc locator.Locator) (rod.Elements, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	p := d.page.Context(ctx)
	var (
		els rod.Elements
		err error
	)
	if loc.Strategy == locator.XPath {
		els, err = p.ElementsX(loc.Selector)
	} else {
		els, err = p.Elements(loc.Selector)
	}
	if err != nil {
		return nil, driver.Unavailable(ctx, action, loc, err)
	}
	return els, nil
}

func (d *Driver) first(ctx context.Context, action string, loc locator.Locator) (*rod.Element, error) {
	els, err := d.elements(ctx, action, loc)
	if err != nil {
		return nil, err
	}
	if els.Empty() {
		return nil, driver.NotFound(action, loc)
	}
	return els.First().Context(ctx), nil
}

func replaceText(el *rod.Element, value string) error {
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func isGone(err error) bool {
	var notFound *rod.ObjectNotFoundError
	return errors.As(err, &notFound)
}
