// Package chain is the fluent command chain scenarios are written in. A Chain
// wraps one driver session; every command returns the chain so a scenario
// reads as one linear pipeline:
//
//	err := chain.New(drv, opts).
//		On(loginPage).
//		Navigate().
//		Login(email, password).
//		End()
//
// The first failing command is kept and every later command becomes a no-op,
// so the pipeline needs a single error check at End.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
	"github.com/kuitang/dashboard-e2e/internal/logutil"
	"github.com/kuitang/dashboard-e2e/internal/obs"
	"github.com/kuitang/dashboard-e2e/internal/pageobject"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultPollInterval = 500 * time.Millisecond

	maxLoggedValueChars = 64
)

// Options tunes a Chain. Zero values take the defaults.
type Options struct {
	// Timeout bounds every wait and every driver command.
	Timeout time.Duration
	// PollInterval is the delay between wait checks.
	PollInterval time.Duration
	// BaseContext is the parent of every driver call. Cancelling it aborts
	// the current command.
	BaseContext context.Context
}

// Chain is a fluent session handle. It is not safe for concurrent use.
type Chain struct {
	drv     driver.Driver
	ctx     context.Context
	timeout time.Duration
	poll    time.Duration
	page    *pageobject.Page
	mode    locator.Strategy
	err     error
	ended   bool
	log     *slog.Logger
}

// New wraps drv. The chain owns the session and closes it in End.
func New(drv driver.Driver, opts Options) *Chain {
	ctx := opts.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Chain{
		drv:     drv,
		ctx:     ctx,
		timeout: opts.Timeout,
		poll:    opts.PollInterval,
		mode:    locator.CSS,
		log:     obs.From(ctx).With("pkg", "chain"),
	}
}

// Err returns the first error recorded so far.
func (c *Chain) Err() error {
	return c.err
}

// Page returns the bound page object, or nil.
func (c *Chain) Page() *pageobject.Page {
	return c.page
}

// On binds page: Navigate loads its URL and "@name" references resolve
// through its element table.
func (c *Chain) On(page *pageobject.Page) *Chain {
	if !c.ready("on") {
		return c
	}
	if page == nil {
		return c.fail(errs.New(errs.InvalidArgument, "on: nil page"))
	}
	c.page = page
	return c
}

// UseXPath makes later unprefixed literal selectors XPath.
func (c *Chain) UseXPath() *Chain {
	if c.ready("useXpath") {
		c.mode = locator.XPath
	}
	return c
}

// UseCSS makes later unprefixed literal selectors CSS (the default).
func (c *Chain) UseCSS() *Chain {
	if c.ready("useCss") {
		c.mode = locator.CSS
	}
	return c
}

// ============================================================================
// Primitives
// ============================================================================

// Navigate loads the bound page's resolved URL.
func (c *Chain) Navigate() *Chain {
	if !c.ready("navigate") {
		return c
	}
	if c.page == nil {
		return c.fail(errs.New(errs.FailedPrecondition, "navigate: no page bound"))
	}
	return c.NavigateTo(c.page.URL)
}

// NavigateTo loads url and waits for the load event.
func (c *Chain) NavigateTo(url string) *Chain {
	if !c.ready("navigate") {
		return c
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	err := c.drv.Navigate(ctx, url)
	c.logCommand("navigate", url, start, err)
	if err != nil {
		return c.fail(errs.Wrap(errs.CodeOf(err), "navigate "+url, err))
	}
	return c
}

// WaitForElementVisible polls until the first match of ref is visible.
func (c *Chain) WaitForElementVisible(ref string, timeout ...time.Duration) *Chain {
	return c.waitRef("waitForElementVisible", ref, timeout, conditionVisible)
}

// WaitForElementPresent polls until ref matches at least one element.
func (c *Chain) WaitForElementPresent(ref string, timeout ...time.Duration) *Chain {
	return c.waitRef("waitForElementPresent", ref, timeout, conditionPresent)
}

// WaitForElementNotPresent polls until ref matches nothing.
func (c *Chain) WaitForElementNotPresent(ref string, timeout ...time.Duration) *Chain {
	return c.waitRef("waitForElementNotPresent", ref, timeout, conditionAbsent)
}

// Click clicks the first match of ref as it is now. Callers wait for
// visibility first when the UI animates.
func (c *Chain) Click(ref string) *Chain {
	if !c.ready("click") {
		return c
	}
	loc, err := c.resolve(ref)
	if err != nil {
		return c.fail(err)
	}
	return c.act("click", "", loc, c.clickFn(loc))
}

// ClickElement waits for ref to be visible, then clicks it.
func (c *Chain) ClickElement(ref string) *Chain {
	if !c.ready("clickElement") {
		return c
	}
	loc, err := c.resolve(ref)
	if err != nil {
		return c.fail(err)
	}
	if err := c.wait(c.ctx, "clickElement", "", loc, c.timeout, conditionVisible); err != nil {
		return c.fail(err)
	}
	return c.act("clickElement", "", loc, c.clickFn(loc))
}

// FillInput waits for ref to be visible, clears it and types value.
func (c *Chain) FillInput(ref, value string) *Chain {
	if !c.ready("fillInput") {
		return c
	}
	loc, err := c.resolve(ref)
	if err != nil {
		return c.fail(err)
	}
	if err := c.wait(c.ctx, "fillInput", "", loc, c.timeout, conditionVisible); err != nil {
		return c.fail(err)
	}
	// Values typed into credential fields are redacted by ref name.
	c.log.Debug("chain_fill",
		"ref", ref,
		"value", logutil.TruncateForLog(logutil.RedactValue(ref, value), maxLoggedValueChars),
	)
	return c.act("fillInput", "", loc, func(ctx context.Context) error {
		return c.drv.SetValue(ctx, loc, value)
	})
}

// SelectDropdownValue waits for ref to be visible and picks value. Native
// selects choose by value or label. Text inputs, and widgets wrapping one,
// are typed into and confirmed with Enter.
func (c *Chain) SelectDropdownValue(ref, value string) *Chain {
	if !c.ready("selectDropdownValue") {
		return c
	}
	loc, err := c.resolve(ref)
	if err != nil {
		return c.fail(err)
	}
	if err := c.wait(c.ctx, "selectDropdownValue", "", loc, c.timeout, conditionVisible); err != nil {
		return c.fail(err)
	}
	return c.act("selectDropdownValue", "", loc, func(ctx context.Context) error {
		return c.drv.SelectOption(ctx, loc, value)
	})
}

// Pause sleeps for d. It ends early, with an error, when the chain's base
// context does.
func (c *Chain) Pause(d time.Duration) *Chain {
	if !c.ready("pause") {
		return c
	}
	start := time.Now()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		c.logCommand("pause", "", start, nil)
		return c
	case <-c.ctx.Done():
		err := interruption(c.ctx, "pause")
		c.logCommand("pause", "", start, err)
		return c.fail(err)
	}
}

// End closes the session and returns the first recorded error joined with
// any close error. The chain is unusable afterwards.
func (c *Chain) End() error {
	if c.ended {
		c.ready("end")
		return c.err
	}
	c.ended = true
	closeErr := c.drv.Close()
	if closeErr != nil && !errors.Is(closeErr, driver.ErrClosed) {
		closeErr = errs.Wrap(errs.Unavailable, "end session", closeErr)
	} else {
		closeErr = nil
	}
	c.log.Debug("chain_end", "failed", c.err != nil)
	return errors.Join(c.err, closeErr)
}

// Do runs a custom step inside the chain with the chain's driver and timeout.
func (c *Chain) Do(name string, fn func(ctx context.Context, drv driver.Driver) error) *Chain {
	if !c.ready(name) {
		return c
	}
	return c.act(name, "", locator.Locator{}, func(ctx context.Context) error {
		return fn(ctx, c.drv)
	})
}

// ============================================================================
// Internals
// ============================================================================

// ready reports whether a command may run. A command issued after End
// records a failed-precondition error.
func (c *Chain) ready(command string) bool {
	if c.ended {
		if c.err == nil {
			c.err = errs.New(errs.FailedPrecondition, command+": chain already ended")
		}
		return false
	}
	return c.err == nil
}

func (c *Chain) fail(err error) *Chain {
	if c.err == nil {
		c.err = err
	}
	return c
}

// resolve turns a reference into a locator: "@name" goes through the bound
// page, anything else is a selector parsed in the current mode.
func (c *Chain) resolve(ref string) (locator.Locator, error) {
	if name, ok := strings.CutPrefix(ref, "@"); ok {
		if c.page == nil {
			return locator.Locator{}, errs.New(errs.FailedPrecondition, fmt.Sprintf("element %s: no page bound", ref))
		}
		return c.page.Element(name)
	}
	return locator.Parse(ref, c.mode)
}

func (c *Chain) act(command, stage string, loc locator.Locator, fn func(ctx context.Context) error) *Chain {
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && c.ctx.Err() != nil {
		err = interruption(c.ctx, command)
	}
	c.logCommand(command, loc.String(), start, err)
	if err != nil {
		return c.fail(stageError(stage, command, err))
	}
	return c
}

func (c *Chain) waitRef(command, ref string, timeout []time.Duration, cond condition) *Chain {
	if !c.ready(command) {
		return c
	}
	loc, err := c.resolve(ref)
	if err != nil {
		return c.fail(err)
	}
	if err := c.wait(c.ctx, command, "", loc, c.timeoutOr(timeout), cond); err != nil {
		return c.fail(err)
	}
	return c
}

func (c *Chain) timeoutOr(timeout []time.Duration) time.Duration {
	if len(timeout) > 0 && timeout[0] > 0 {
		return timeout[0]
	}
	return c.timeout
}

func (c *Chain) logCommand(command, target string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(errs.CodeOf(err))
	}
	c.log.Debug("chain_command",
		"command", command,
		"locator", target,
		"dur_ms", obs.DurMS(start),
		"outcome", outcome,
	)
}

// interruption reports the end of the chain's base context. An expired
// deadline is a timeout. A cancellation keeps the code of a coded cause and
// is otherwise a failed precondition.
func interruption(ctx context.Context, msg string) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.Timeout, msg, err)
	}
	var coded *errs.Error
	if cause := context.Cause(ctx); errors.As(cause, &coded) {
		return errs.Wrap(coded.Code, msg, cause)
	}
	return errs.Wrap(errs.FailedPrecondition, msg+": run cancelled", err)
}

func stageError(stage, command string, err error) error {
	prefix := command
	if stage != "" {
		prefix = fmt.Sprintf("%s (%s)", command, stage)
	}
	return errs.Wrap(errs.CodeOf(err), prefix, err)
}

func (c *Chain) clickFn(loc locator.Locator) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return c.drv.Click(ctx, loc)
	}
}
