// Package cdpdriver implements driver.Driver over the Chrome DevTools
// Protocol with chromedp.
package cdpdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
	"github.com/kuitang/dashboard-e2e/internal/obs"
)

// Driver drives one Chrome tab.
type Driver struct {
	// tab is the chromedp context of the tab. Calls derive from it, never
	// from the caller's context, so that cancelling a call does not close
	// the tab.
	tab context.Context

	mu     sync.Mutex
	closed bool
	cancel []context.CancelFunc
}

var _ driver.Driver = (*Driver)(nil)

// Open launches a local Chrome, or attaches to the DevTools endpoint at
// opts.RemoteURL, and opens a tab.
func Open(ctx context.Context, opts driver.Options) (*Driver, error) {
	log := obs.From(ctx).With("pkg", "cdpdriver")
	start := time.Now()

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		options := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.IgnoreCertErrors)
		if !opts.Headless {
			options = append(options,
				chromedp.Flag("headless", false),
				chromedp.Flag("hide-scrollbars", false),
				chromedp.Flag("mute-audio", false),
			)
		}
		if runtime.GOOS != "darwin" && runtime.GOOS != "windows" {
			// Containers on linux cannot use Chrome's sandbox.
			options = append(options, chromedp.NoSandbox)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), options...)
	}

	tab, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug("cdp_log", "detail", fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Warn("cdp_error", "detail", fmt.Sprintf(format, args...))
		}),
	)

	d := &Driver{tab: tab, cancel: []context.CancelFunc{tabCancel, allocCancel}}

	// The first Run starts the browser and opens the tab. Both live as long
	// as the context it runs with, so it gets the tab context itself.
	if err := chromedp.Run(tab); err != nil {
		_ = d.Close()
		return nil, errs.Wrap(errs.Unavailable, "open chrome", err)
	}

	log.Info("browser_open",
		"driver", string(driver.Chromedp),
		"remote", opts.RemoteURL != "",
		"headless", opts.Headless,
		"dur_ms", obs.DurMS(start),
	)
	return d, nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return driver.Unavailable(ctx, "navigate "+url, locator.Locator{}, err)
	}
	return nil
}

func (d *Driver) Find(ctx context.Context, loc locator.Locator) (driver.ElementState, error) {
	var res probeResult
	if err := d.run(ctx, chromedp.Evaluate(probeScript(loc), &res)); err != nil {
		return driver.ElementState{}, driver.Unavailable(ctx, "find", loc, err)
	}
	return driver.ElementState{Count: res.Count, Visible: res.Visible}, nil
}

func (d *Driver) Click(ctx context.Context, loc locator.Locator) error {
	if err := d.present(ctx, "click", loc); err != nil {
		return err
	}
	if err := d.run(ctx, chromedp.Click(loc.Selector, queryOption(loc))); err != nil {
		return driver.Unavailable(ctx, "click", loc, err)
	}
	return nil
}

func (d *Driver) SetValue(ctx context.Context, loc locator.Locator, value string) error {
	if err := d.present(ctx, "set value", loc); err != nil {
		return err
	}
	by := queryOption(loc)
	err := d.run(ctx,
		chromedp.Clear(loc.Selector, by),
		chromedp.SendKeys(loc.Selector, value, by),
	)
	if err != nil {
		return driver.Unavailable(ctx, "set value", loc, err)
	}
	return nil
}

func (d *Driver) SelectOption(ctx context.Context, loc locator.Locator, value string) error {
	if err := d.present(ctx, "select option", loc); err != nil {
		return err
	}

	var outcome string
	if err := d.run(ctx, chromedp.Evaluate(selectScript(loc, value), &outcome)); err != nil {
		return driver.Unavailable(ctx, "select option", loc, err)
	}
	switch outcome {
	case "selected":
		return nil
	case "no-option":
		return errs.New(errs.NotFound, fmt.Sprintf("select option: %s has no option %q", loc, value))
	case "widget":
		return d.selectInWidget(ctx, loc, value)
	}

	by := queryOption(loc)
	err := d.run(ctx,
		chromedp.Clear(loc.Selector, by),
		chromedp.SendKeys(loc.Selector, value+kb.Enter, by),
	)
	if err != nil {
		return driver.Unavailable(ctx, "select option", loc, err)
	}
	return nil
}

// selectInWidget clicks a dropdown widget, focuses and clears the first text
// input inside it, then types value and Enter into the focused input.
func (d *Driver) selectInWidget(ctx context.Context, loc locator.Locator, value string) error {
	if err := d.run(ctx, chromedp.Click(loc.Selector, queryOption(loc))); err != nil {
		return driver.Unavailable(ctx, "select option", loc, err)
	}
	var focused bool
	if err := d.run(ctx, chromedp.Evaluate(focusInputScript(loc), &focused)); err != nil {
		return driver.Unavailable(ctx, "select option", loc, err)
	}
	if !focused {
		return driver.NoTextInput(loc)
	}
	if err := d.run(ctx, chromedp.KeyEvent(value+kb.Enter)); err != nil {
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
	// Cancel closes the tab and, for a launched browser, ends the process.
	err := chromedp.Cancel(d.tab)
	for _, cancel := range d.cancel {
		cancel()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Unavailable, "close chrome", err)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// callContext derives a context from the tab that ends when ctx does.
func (d *Driver) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(d.tab, deadline)
	} else {
		runCtx, cancel = context.WithCancel(d.tab)
	}
	stopAfter := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stopAfter()
		cancel()
	}
}

func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return driver.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, stop := d.callContext(ctx)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// present fails with errs.NotFound when nothing matches loc. chromedp's own
// queries would wait instead.
func (d *Driver) present(ctx context.Context, action string, loc locator.Locator) error {
	state, err := d.Find(ctx, loc)
	if err != nil {
		return err
	}
	if !state.Present() {
		return driver.NotFound(action, loc)
	}
	return nil
}

// queryOption maps a locator onto chromedp's selector modes. DOM.performSearch
// accepts XPath; querySelector does not.
func queryOption(loc locator.Locator) chromedp.QueryOption {
	if loc.Strategy == locator.XPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

type probeResult struct {
	Count   int  `json:"count"`
	Visible bool `json:"visible"`
}

const collectJS = `function collect(strategy, sel) {
  if (strategy === "xpath") {
    const r = document.evaluate(sel, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
    const out = [];
    for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
    return out;
  }
  return Array.from(document.querySelectorAll(sel));
}`

const probeJS = `(function(strategy, sel) {
  %s
  const nodes = collect(strategy, sel);
  if (nodes.length === 0) return {count: 0, visible: false};
  let el = nodes[0];
  if (el.nodeType !== Node.ELEMENT_NODE) el = el.parentElement;
  let visible = false;
  if (el) {
    const style = window.getComputedStyle(el);
    visible = style.visibility !== "hidden" &&
      !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
  }
  return {count: nodes.length, visible: visible};
})(%s, %s)`

// selectJS picks an option of a native select by value, then by label. Text
// inputs come back as "editable" and anything else as "widget".
const selectJS = `(function(strategy, sel, want) {
  %s
  const el = collect(strategy, sel)[0];
  if (!el) return "widget";
  if (el.tagName === "INPUT" || el.tagName === "TEXTAREA" || el.isContentEditable) return "editable";
  if (el.tagName !== "SELECT") return "widget";
  const opt = Array.from(el.options).find(o => o.value === want) ||
    Array.from(el.options).find(o => o.label === want || o.text.trim() === want);
  if (!opt) return "no-option";
  el.value = opt.value;
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  return "selected";
})(%s, %s, %s)`

// focusInputJS focuses and empties the first text input inside the match.
const focusInputJS = `(function(strategy, sel) {
  %s
  const el = collect(strategy, sel)[0];
  const field = el && el.querySelector("input, textarea");
  if (!field) return false;
  field.focus();
  field.value = "";
  field.dispatchEvent(new Event("input", {bubbles: true}));
  return true;
})(%s, %s)`

func probeScript(loc locator.Locator) string {
	return fmt.Sprintf(probeJS, collectJS, jsString(loc.Strategy.String()), jsString(loc.Selector))
}

func selectScript(loc locator.Locator, value string) string {
	return fmt.Sprintf(selectJS, collectJS, jsString(loc.Strategy.String()), jsString(loc.Selector), jsString(value))
}

func focusInputScript(loc locator.Locator) string {
	return fmt.Sprintf(focusInputJS, collectJS, jsString(loc.Strategy.String()), jsString(loc.Selector))
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
