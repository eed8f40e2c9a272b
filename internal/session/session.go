// Package session opens a browser session with the configured backend and
// wraps it in a command chain.
package session

import (
	"context"

	"github.com/kuitang/dashboard-e2e/internal/chain"
	"github.com/kuitang/dashboard-e2e/internal/config"
	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/driver/cdpdriver"
	"github.com/kuitang/dashboard-e2e/internal/driver/pwdriver"
	"github.com/kuitang/dashboard-e2e/internal/driver/roddriver"
	"github.com/kuitang/dashboard-e2e/internal/errs"
)

// Opener starts one browser session.
type Opener func(ctx context.Context, opts driver.Options) (driver.Driver, error)

var openers = map[driver.Kind]Opener{
	driver.Playwright: func(ctx context.Context, opts driver.Options) (driver.Driver, error) {
		return pwdriver.Open(ctx, opts)
	},
	driver.Chromedp: func(ctx context.Context, opts driver.Options) (driver.Driver, error) {
		return cdpdriver.Open(ctx, opts)
	},
	driver.Rod: func(ctx context.Context, opts driver.Options) (driver.Driver, error) {
		return roddriver.Open(ctx, opts)
	},
}

// OpenDriver starts a session with the backend named by kind.
func OpenDriver(ctx context.Context, kind driver.Kind, opts driver.Options) (driver.Driver, error) {
	open, ok := openers[kind]
	if !ok {
		return nil, errs.New(errs.InvalidArgument, "no browser driver named "+string(kind))
	}
	return open(ctx, opts)
}

// ChainOptions maps the wait settings of cfg onto chain options.
func ChainOptions(ctx context.Context, cfg *config.Config) chain.Options {
	return chain.Options{
		Timeout:      cfg.WaitTimeout,
		PollInterval: cfg.PollInterval,
		BaseContext:  ctx,
	}
}

// Open starts a session as cfg describes and returns a chain that owns it.
// The caller ends the session with Chain.End.
func Open(ctx context.Context, cfg *config.Config) (*chain.Chain, error) {
	drv, err := OpenDriver(ctx, cfg.BrowserDriver, cfg.DriverOptions())
	if err != nil {
		return nil, err
	}
	return chain.New(drv, ChainOptions(ctx, cfg)), nil
}
