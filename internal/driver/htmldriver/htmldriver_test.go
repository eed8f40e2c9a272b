package htmldriver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/driver/drivertest"
	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
)

const pageURL = "http://dash.test/#/login"

const loginDoc = `<!doctype html>
<html><head><title>Login</title></head><body>
<form>
  <input name="email" type="email">
  <input name="password" type="password">
  <select name="region"><option value="us">United States</option><option value="eu">Europe</option></select>
  <button type="submit" data-e2e="login-button">Log in</button>
  <input type="hidden" name="csrf" value="x">
  <div style="display: none"><span class="ghost">ghost</span></div>
  <div hidden><span class="hidden-child">hidden</span></div>
</form>
</body></html>`

func loaded(t *testing.T) *Driver {
	t.Helper()
	d := New().Serve(pageURL, loginDoc)
	require.NoError(t, d.Navigate(context.Background(), pageURL))
	return d
}

func TestFind_CountAndVisibility(t *testing.T) {
	t.Parallel()
	d := loaded(t)
	ctx := context.Background()

	tests := []struct {
		name string
		loc  locator.Locator
		want driver.ElementState
	}{
		{"css visible", locator.ByCSS(`input[name="email"]`), driver.ElementState{Count: 1, Visible: true}},
		{"xpath visible", locator.ByXPath(`//button[text()="Log in"]`), driver.ElementState{Count: 1, Visible: true}},
		{"multiple", locator.ByCSS("input"), driver.ElementState{Count: 3, Visible: true}},
		{"hidden input", locator.ByCSS(`input[type="hidden"]`), driver.ElementState{Count: 1}},
		{"display none ancestor", locator.ByCSS("span.ghost"), driver.ElementState{Count: 1}},
		{"hidden attr ancestor", locator.ByCSS("span.hidden-child"), driver.ElementState{Count: 1}},
		{"head content", locator.ByCSS("title"), driver.ElementState{Count: 1}},
		{"absent", locator.ByCSS("#nope"), driver.ElementState{}},
		{"xpath text node", locator.ByXPath(`//button/text()`), driver.ElementState{Count: 1, Visible: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := d.Find(ctx, tc.loc)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFind_InvalidSelector(t *testing.T) {
	t.Parallel()
	d := loaded(t)

	_, err := d.Find(context.Background(), locator.ByCSS("div[["))
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	_, err = d.Find(context.Background(), locator.ByXPath("//div[@"))
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestNavigate_UnknownURL(t *testing.T) {
	t.Parallel()
	err := New().Navigate(context.Background(), "http://nowhere.test/")
	require.Equal(t, errs.Unavailable, errs.CodeOf(err))
}

func TestClick_RunsHooksAndRecordsText(t *testing.T) {
	t.Parallel()
	d := loaded(t)
	ctx := context.Background()

	button := locator.ByCSS(`[data-e2e="login-button"]`)
	d.OnClick(button, func(dom *DOM) {
		dom.AppendHTML(locator.ByCSS("body"), `<div id="welcome">Instances</div>`)
	})

	require.NoError(t, d.Click(ctx, locator.ByXPath(`//button[text()="Log in"]`)))
	require.Equal(t, []string{"Log in"}, d.Clicked())

	state, err := d.Find(ctx, locator.ByCSS("#welcome"))
	require.NoError(t, err)
	require.True(t, state.Visible)

	err = d.Click(ctx, locator.ByCSS("#missing"))
	require.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestSetValueAndSelectOption(t *testing.T) {
	t.Parallel()
	d := loaded(t)
	ctx := context.Background()

	email := locator.ByCSS(`input[name="email"]`)
	var changed []string
	d.OnChange(email, func(_ *DOM, v string) { changed = append(changed, v) })

	require.NoError(t, d.SetValue(ctx, email, "first@example.com"))
	require.NoError(t, d.SetValue(ctx, email, "e2e@example.com"))
	got, err := d.Value(email)
	require.NoError(t, err)
	require.Equal(t, "e2e@example.com", got)
	require.Equal(t, []string{"first@example.com", "e2e@example.com"}, changed)

	region := locator.ByCSS(`select[name="region"]`)
	require.NoError(t, d.SelectOption(ctx, region, "Europe"))
	got, err = d.Value(region)
	require.NoError(t, err)
	require.Equal(t, "eu", got)

	err = d.SelectOption(ctx, region, "Mars")
	require.Equal(t, errs.NotFound, errs.CodeOf(err))

	require.NoError(t, d.SelectOption(ctx, email, "typed@example.com"))
	require.Equal(t, []string{"Enter"}, d.Keys())

	err = d.SetValue(ctx, locator.ByCSS("button"), "x")
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestSelectOption_DropdownWidget(t *testing.T) {
	t.Parallel()
	const url = "http://dash.test/#/instances/i/script-endpoints"
	d := New().Serve(url, `<html><body>
<div class="script-dropdown"><div><div id="field"><input type="text" data-e2e="script-name"></div></div></div>
<div id="bare">no input here</div>
</body></html>`)
	ctx := context.Background()
	require.NoError(t, d.Navigate(ctx, url))

	field := locator.ByCSS(`input[data-e2e="script-name"]`)
	var opened int
	var changed []string
	d.OnClick(locator.ByCSS("#field"), func(*DOM) { opened++ })
	d.OnChange(field, func(_ *DOM, v string) { changed = append(changed, v) })

	widget := locator.ByXPath(`//div[@class="script-dropdown"]/div/div`)
	require.NoError(t, d.SelectOption(ctx, widget, "testScript1"))
	require.Equal(t, 1, opened)
	require.Equal(t, []string{"testScript1"}, changed)
	require.Equal(t, []string{"Enter"}, d.Keys())
	got, err := d.Value(field)
	require.NoError(t, err)
	require.Equal(t, "testScript1", got)

	err = d.SelectOption(ctx, locator.ByCSS("#bare"), "testScript1")
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestAfter_AppliesDelayedMutations(t *testing.T) {
	t.Parallel()
	d := loaded(t)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	spinner := locator.ByCSS("#spinner")
	d.OnClick(locator.ByCSS("button"), func(dom *DOM) {
		dom.AppendHTML(locator.ByCSS("body"), `<div id="spinner"></div>`)
		dom.After(300*time.Millisecond, func(dom *DOM) { dom.Remove(spinner) })
	})
	require.NoError(t, d.Click(ctx, locator.ByCSS("button")))

	state, err := d.Find(ctx, spinner)
	require.NoError(t, err)
	require.Equal(t, 1, state.Count)

	now = now.Add(299 * time.Millisecond)
	state, err = d.Find(ctx, spinner)
	require.NoError(t, err)
	require.Equal(t, 1, state.Count)

	now = now.Add(time.Millisecond)
	state, err = d.Find(ctx, spinner)
	require.NoError(t, err)
	require.Zero(t, state.Count)
}

func TestClose(t *testing.T) {
	t.Parallel()
	d := loaded(t)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	require.True(t, d.Closed())

	_, err := d.Find(context.Background(), locator.ByCSS("input"))
	require.ErrorIs(t, err, driver.ErrClosed)
	require.ErrorIs(t, d.Navigate(context.Background(), pageURL), driver.ErrClosed)
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()
	d := loaded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Click(ctx, locator.ByCSS("button"))
	require.Equal(t, errs.Timeout, errs.CodeOf(err))
	require.Empty(t, d.Clicked())
}

func TestConformance(t *testing.T) {
	const url = "http://drivertest.test/"
	drivertest.Run(t, New().Serve(url, drivertest.Document), url)
}
