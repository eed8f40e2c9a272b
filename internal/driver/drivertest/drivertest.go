// Package drivertest holds the behaviour every driver.Driver backend must
// share, run against a small static page.
package drivertest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
)

// Document is the page the conformance checks run against.
const Document = `<!doctype html><html><head><title>drivertest</title></head><body>
<div id="visible">shown</div>
<div id="hidden-attr" hidden>hidden</div>
<div id="display-none" style="display: none">none</div>
<div id="invisible" style="visibility:hidden">invisible</div>
<div style="display:none"><span id="inside-hidden">inside</span></div>
<ul id="items"><li>one</li><li>two</li><li>Edit Permissions</li></ul>
<input type="text" name="title">
<select name="runtime">
  <option value="python_library_v5.0">Python</option>
  <option value="nodejs_library_v1.0">Node.js</option>
</select>
<div class="script-dropdown"><div><div><input type="text" name="script" autocomplete="off"></div></div></div>
<button id="go" type="button">Go</button>
</body></html>`

// Serve serves Document at the root of a test server and returns its URL.
func Serve(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(Document))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/"
}

// Run checks drv against Document loaded from url, then closes it.
func Run(t *testing.T, drv driver.Driver, url string) {
	t.Helper()

	call := func(t *testing.T) context.Context {
		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
		t.Cleanup(cancel)
		return ctx
	}

	require.NoError(t, drv.Navigate(call(t), url))

	t.Run("FindVisibility", func(t *testing.T) {
		cases := []struct {
			loc     locator.Locator
			count   int
			visible bool
		}{
			{locator.ByCSS("#visible"), 1, true},
			{locator.ByCSS("#hidden-attr"), 1, false},
			{locator.ByCSS("#display-none"), 1, false},
			{locator.ByCSS("#invisible"), 1, false},
			{locator.ByCSS("#inside-hidden"), 1, false},
			{locator.ByCSS("#missing"), 0, false},
			{locator.ByXPath("//ul[@id='items']/li"), 3, true},
			{locator.ByXPath(`//li[contains(text(), "Edit")]`), 1, true},
			{locator.ByXPath(`//li[text()="Edit"]`), 0, false},
		}
		for _, tc := range cases {
			state, err := drv.Find(call(t), tc.loc)
			require.NoError(t, err, tc.loc.String())
			require.Equal(t, tc.count, state.Count, tc.loc.String())
			require.Equal(t, tc.visible, state.Visible, tc.loc.String())
		}
	})

	t.Run("ActOnPresentElements", func(t *testing.T) {
		require.NoError(t, drv.Click(call(t), locator.ByCSS("#go")))
		require.NoError(t, drv.SetValue(call(t), locator.ByCSS(`input[name="title"]`), "testScriptEndpoint"))
		require.NoError(t, drv.SelectOption(call(t), locator.ByXPath(`//select[@name="runtime"]`), "nodejs_library_v1.0"))
		require.NoError(t, drv.SelectOption(call(t), locator.ByCSS(`select[name="runtime"]`), "Python"))
		require.NoError(t, drv.SelectOption(call(t), locator.ByCSS(`input[name="script"]`), "testScript1"))
		require.NoError(t, drv.SelectOption(call(t), locator.ByXPath(`//div[@class="script-dropdown"]/div/div`), "testScript1"))
	})

	t.Run("WidgetWithoutTextInput", func(t *testing.T) {
		err := drv.SelectOption(call(t), locator.ByCSS("#go"), "testScript1")
		require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	})

	t.Run("MissingElementsAreNotFound", func(t *testing.T) {
		missing := locator.ByCSS("#missing")
		require.Equal(t, errs.NotFound, errs.CodeOf(drv.Click(call(t), missing)))
		require.Equal(t, errs.NotFound, errs.CodeOf(drv.SetValue(call(t), missing, "x")))
		require.Equal(t, errs.NotFound, errs.CodeOf(drv.SelectOption(call(t), missing, "x")))
	})

	t.Run("Close", func(t *testing.T) {
		require.NoError(t, drv.Close())
		require.NoError(t, drv.Close())
		_, err := drv.Find(call(t), locator.ByCSS("#visible"))
		require.Equal(t, errs.FailedPrecondition, errs.CodeOf(err))
	})
}
