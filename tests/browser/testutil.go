// Package browser runs the dashboard scenarios in a real browser.
//
// Every test gets a fresh fake management API, a fake dashboard over it and a
// scratch state provisioned into an in-memory S3 bucket, the same way the CI
// pipeline provisions before the suite and cleans up after it. The Chromium
// instance is shared across tests; tests skip when Playwright is unavailable.
package browser

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/dashboard-e2e/internal/chain"
	"github.com/kuitang/dashboard-e2e/internal/driver/pwdriver"
	"github.com/kuitang/dashboard-e2e/internal/pageobject"
	"github.com/kuitang/dashboard-e2e/internal/pages"
	"github.com/kuitang/dashboard-e2e/internal/provision"
	"github.com/kuitang/dashboard-e2e/internal/s3client"
	"github.com/kuitang/dashboard-e2e/internal/scratch"
	"github.com/kuitang/dashboard-e2e/internal/syncano"
	"github.com/kuitang/dashboard-e2e/internal/syncano/syncanotest"
	"github.com/kuitang/dashboard-e2e/tests/browser/internal/fakedash"
)

const (
	browserTestBucketName = "browser-scratch"
	browserTestEmail      = "e2e@example.com"
	browserTestPassword   = "correct-horse"

	// Never introduce a larger timeout value anywhere in tests/browser.
	browserMaxTimeoutMS = 5000
	browserMaxTimeout   = 5 * time.Second

	browserPollInterval = 100 * time.Millisecond
)

var (
	browserFixtureMu sync.Mutex
	sharedPW         *playwright.Playwright
	sharedBrowser    playwright.Browser
	sharedLaunchErr  error
)

// BrowserTestEnv is one scenario's world: the fakes, the provisioned scratch
// state and the page registry pointed at the fake dashboard.
type BrowserTestEnv struct {
	API       *syncanotest.Server
	Dashboard *fakedash.Server
	Pages     *pageobject.Registry
	Store     scratch.Store
	State     scratch.State

	browser playwright.Browser
}

// SetupBrowserTestEnv starts the fakes and provisions a scratch state. The
// state is cleaned up, and its instance deleted, when the test completes.
func SetupBrowserTestEnv(t *testing.T) *BrowserTestEnv {
	t.Helper()
	ctx := context.Background()

	api := syncanotest.Start(t, browserTestEmail, browserTestPassword)
	dash := fakedash.Start(t, api)

	registry, err := pages.Default(dash.URL())
	if err != nil {
		t.Fatalf("Failed to load page tables: %v", err)
	}

	endpoint := s3client.TestServer(t, browserTestBucketName)
	store, err := scratch.Open(ctx,
		"s3://"+browserTestBucketName+"/"+t.Name()+"/tempInstance.json",
		s3client.TestConfig(endpoint, browserTestBucketName),
	)
	if err != nil {
		t.Fatalf("Failed to open scratch store: %v", err)
	}

	creds := syncano.Credentials{Email: browserTestEmail, Password: browserTestPassword}
	client := syncano.New(api.URL(), syncano.Options{})
	state, err := provision.Provision(ctx, client, creds, store, provision.Options{RunID: t.Name()})
	if err != nil {
		t.Fatalf("Failed to provision scratch state: %v", err)
	}
	t.Cleanup(func() {
		if _, err := provision.Cleanup(ctx, syncano.New(api.URL(), syncano.Options{}), creds, store); err != nil {
			t.Errorf("Failed to clean up scratch state: %v", err)
		}
	})

	// Scenarios read the state back the way the suite does after provisioning.
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load scratch state: %v", err)
	}
	if loaded.InstanceName != state.InstanceName {
		t.Fatalf("Loaded state %q differs from provisioned %q", loaded.InstanceName, state.InstanceName)
	}

	return &BrowserTestEnv{
		API:       api,
		Dashboard: dash,
		Pages:     registry,
		Store:     store,
		State:     loaded,
	}
}

// Page resolves a registered page against the scratch state.
func (env *BrowserTestEnv) Page(name string) *pageobject.Page {
	return env.Pages.MustPage(name, env.State)
}

// =============================================================================
// Browser lifecycle helpers
// =============================================================================

// InitBrowser attaches the shared Chromium, launching it on first use. Skips
// the test if Playwright is not available.
func (env *BrowserTestEnv) InitBrowser(t *testing.T) {
	t.Helper()

	browserFixtureMu.Lock()
	defer browserFixtureMu.Unlock()

	if sharedBrowser == nil && sharedLaunchErr == nil {
		sharedBrowser, sharedLaunchErr = launchBrowser()
	}
	if sharedLaunchErr != nil {
		t.Skip("Playwright not available:", sharedLaunchErr)
	}
	env.browser = sharedBrowser
}

func launchBrowser() (playwright.Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, err
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless()),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}
	sharedPW = pw
	return browser, nil
}

func headless() bool {
	v, err := strconv.ParseBool(os.Getenv("BROWSER_HEADLESS"))
	return err != nil || v
}

// NewPage opens a page in its own browser context with the default 5s
// timeout. The context is closed when the test completes.
func (env *BrowserTestEnv) NewPage(t *testing.T) playwright.Page {
	t.Helper()

	bctx, err := env.browser.NewContext()
	if err != nil {
		t.Fatalf("could not create browser context: %v", err)
	}
	t.Cleanup(func() { _ = bctx.Close() })
	bctx.SetDefaultTimeout(browserMaxTimeoutMS)
	bctx.SetDefaultNavigationTimeout(browserMaxTimeoutMS)

	page, err := bctx.NewPage()
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	return page
}

// NewChain wraps a fresh page in a command chain.
func (env *BrowserTestEnv) NewChain(t *testing.T) *chain.Chain {
	t.Helper()
	return chain.New(pwdriver.Wrap(env.NewPage(t)), chain.Options{
		Timeout:      browserMaxTimeout,
		PollInterval: browserPollInterval,
		BaseContext:  t.Context(),
	})
}

// LoggedIn returns a chain that has already signed in to the dashboard and
// reached the instances list.
func (env *BrowserTestEnv) LoggedIn(t *testing.T) *chain.Chain {
	t.Helper()
	c := env.NewChain(t).
		On(env.Page(pages.Login)).
		Navigate().
		Login(browserTestEmail, browserTestPassword).
		On(env.Page(pages.Instances)).
		WaitForElementVisible("@instancesTable")
	if err := c.Err(); err != nil {
		_ = c.End()
		t.Fatalf("Failed to log in: %v", err)
	}
	return c
}

func cleanupSharedBrowser() {
	browserFixtureMu.Lock()
	defer browserFixtureMu.Unlock()
	if sharedBrowser != nil {
		_ = sharedBrowser.Close()
		sharedBrowser = nil
	}
	if sharedPW != nil {
		_ = sharedPW.Stop()
		sharedPW = nil
	}
}
