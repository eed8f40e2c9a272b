// Package htmldriver is an in-process driver.Driver over parsed HTML
// documents. It runs no JavaScript; UI behaviour is simulated with click and
// change hooks plus delayed mutations, which is enough to exercise the
// command chain's waits and composite commands without a browser.
package htmldriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
)

// Hook runs after a matching element is clicked.
type Hook func(dom *DOM)

// ChangeHook runs after a matching control's value is set.
type ChangeHook func(dom *DOM, value string)

type clickHook struct {
	loc locator.Locator
	fn  Hook
}

type changeHook struct {
	loc locator.Locator
	fn  ChangeHook
}

type mutation struct {
	due time.Time
	fn  Hook
}

// Driver serves registered HTML pages. Delayed mutations are applied lazily
// at the start of each call, so no goroutines are involved.
type Driver struct {
	mu       sync.Mutex
	pages    map[string]string
	onLoad   map[string]Hook
	clicks   []clickHook
	changes  []changeHook
	pending  []mutation
	now      func() time.Time
	doc      *html.Node
	url      string
	closed   bool
	clicked  []string
	keys     []string
	navCount int
}

var _ driver.Driver = (*Driver)(nil)

// New returns an empty driver.
func New() *Driver {
	return &Driver{
		pages:  map[string]string{},
		onLoad: map[string]Hook{},
		now:    time.Now,
	}
}

// Serve registers the document returned for url.
func (d *Driver) Serve(url, document string) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pages[url] = document
	return d
}

// OnLoad runs fn every time url finishes loading.
func (d *Driver) OnLoad(url string, fn Hook) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onLoad[url] = fn
	return d
}

// OnClick runs fn when an element matched by loc is clicked.
func (d *Driver) OnClick(loc locator.Locator, fn Hook) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, clickHook{loc: loc, fn: fn})
	return d
}

// OnChange runs fn when a control matched by loc receives a value.
func (d *Driver) OnChange(loc locator.Locator, fn ChangeHook) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, changeHook{loc: loc, fn: fn})
	return d
}

// Clicked returns the text of every clicked element, in order.
func (d *Driver) Clicked() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicked...)
}

// Keys returns the keys pressed, in order.
func (d *Driver) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.keys...)
}

// URL returns the current document URL.
func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Navigations counts successful Navigate calls.
func (d *Driver) Navigations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.navCount
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Value returns the value of the first element matching loc.
func (d *Driver) Value(loc locator.Locator) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes, err := d.query(loc)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", driver.NotFound("value", loc)
	}
	return valueOf(nodes[0]), nil
}

// ============================================================================
// driver.Driver
// ============================================================================

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx); err != nil {
		return err
	}
	src, ok := d.pages[url]
	if !ok {
		return errs.New(errs.Unavailable, fmt.Sprintf("navigate %s: net::ERR_NAME_NOT_RESOLVED", url))
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return errs.Wrap(errs.Unavailable, "navigate "+url, err)
	}
	d.doc = doc
	d.url = url
	d.pending = nil
	d.navCount++
	if fn := d.onLoad[url]; fn != nil {
		fn(d.dom())
	}
	return nil
}

func (d *Driver) Find(ctx context.Context, loc locator.Locator) (driver.ElementState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx); err != nil {
		return driver.ElementState{}, err
	}
	nodes, err := d.query(loc)
	if err != nil {
		return driver.ElementState{}, err
	}
	state := driver.ElementState{Count: len(nodes)}
	if len(nodes) > 0 {
		state.Visible = visible(nodes[0])
	}
	return state, nil
}

func (d *Driver) Click(ctx context.Context, loc locator.Locator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx); err != nil {
		return err
	}
	nodes, err := d.query(loc)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return driver.NotFound("click", loc)
	}
	return d.click(elementOf(nodes[0]))
}

func (d *Driver) SetValue(ctx context.Context, loc locator.Locator, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx); err != nil {
		return err
	}
	target, err := d.first("set value", loc)
	if err != nil {
		return err
	}
	if !editable(target) {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("set value: %s is a <%s>, not a text control", loc, target.Data))
	}
	setValue(target, value)
	return d.fireChange(target, value)
}

func (d *Driver) SelectOption(ctx context.Context, loc locator.Locator, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.begin(ctx); err != nil {
		return err
	}
	target, err := d.first("select option", loc)
	if err != nil {
		return err
	}

	if target.DataAtom == atom.Select {
		if !selectNative(target, value) {
			return errs.New(errs.NotFound, fmt.Sprintf("select option: %s has no option %q", loc, value))
		}
		return d.fireChange(target, value)
	}
	if !editable(target) {
		if err := d.click(target); err != nil {
			return err
		}
		if target = firstEditable(target); target == nil {
			return driver.NoTextInput(loc)
		}
	}
	setValue(target, value)
	d.keys = append(d.keys, "Enter")
	return d.fireChange(target, value)
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.doc = nil
	d.pending = nil
	return nil
}

// ============================================================================
// Internals (callers hold d.mu)
// ============================================================================

func (d *Driver) begin(ctx context.Context) error {
	if d.closed {
		return driver.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.Timeout, "browser command", err)
	}
	d.settle()
	return nil
}

// settle applies every delayed mutation that is due, in schedule order.
func (d *Driver) settle() {
	now := d.now()
	for {
		idx := -1
		for i, m := range d.pending {
			if !m.due.After(now) && (idx < 0 || m.due.Before(d.pending[idx].due)) {
				idx = i
			}
		}
		if idx < 0 {
			return
		}
		m := d.pending[idx]
		d.pending = append(d.pending[:idx], d.pending[idx+1:]...)
		m.fn(d.dom())
	}
}

func (d *Driver) query(loc locator.Locator) ([]*html.Node, error) {
	if d.doc == nil {
		return nil, errs.New(errs.FailedPrecondition, "no document loaded")
	}
	return queryAll(d.doc, loc)
}

func (d *Driver) first(action string, loc locator.Locator) (*html.Node, error) {
	nodes, err := d.query(loc)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, driver.NotFound(action, loc)
	}
	return elementOf(nodes[0]), nil
}

func (d *Driver) click(target *html.Node) error {
	d.clicked = append(d.clicked, strings.TrimSpace(htmlquery.InnerText(target)))
	for _, h := range d.clicks {
		matches, err := d.query(h.loc)
		if err != nil {
			return err
		}
		if containsNode(matches, target) {
			h.fn(d.dom())
		}
	}
	return nil
}

func (d *Driver) fireChange(target *html.Node, value string) error {
	for _, h := range d.changes {
		matches, err := d.query(h.loc)
		if err != nil {
			return err
		}
		if containsNode(matches, target) {
			h.fn(d.dom(), value)
		}
	}
	return nil
}

func (d *Driver) dom() *DOM {
	return &DOM{d: d}
}

func queryAll(root *html.Node, loc locator.Locator) ([]*html.Node, error) {
	switch loc.Strategy {
	case locator.CSS:
		sel, err := cascadia.ParseGroup(loc.Selector)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid css selector %q", loc.Selector), err)
		}
		return cascadia.QueryAll(root, sel), nil
	case locator.XPath:
		nodes, err := htmlquery.QueryAll(root, loc.Selector)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid xpath %q", loc.Selector), err)
		}
		return nodes, nil
	}
	return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown strategy %v", loc.Strategy))
}

func containsNode(nodes []*html.Node, target *html.Node) bool {
	for _, n := range nodes {
		if elementOf(n) == target {
			return true
		}
	}
	return false
}

// elementOf maps text and attribute nodes returned by XPath to their element.
func elementOf(n *html.Node) *html.Node {
	for n != nil && n.Type != html.ElementNode {
		n = n.Parent
	}
	return n
}

func visible(n *html.Node) bool {
	for cur := elementOf(n); cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		switch cur.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Template, atom.Title:
			return false
		case atom.Input:
			if strings.EqualFold(attr(cur, "type"), "hidden") {
				return false
			}
		}
		if hasAttr(cur, "hidden") {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(attr(cur, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func editable(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Textarea:
		return true
	case atom.Input:
		switch strings.ToLower(attr(n, "type")) {
		case "", "text", "email", "password", "search", "url", "tel", "number":
			return true
		}
	}
	return hasAttr(n, "contenteditable")
}

// firstEditable returns the first text control below n in document order.
func firstEditable(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if editable(c) {
			return c
		}
		if found := firstEditable(c); found != nil {
			return found
		}
	}
	return nil
}

func selectNative(sel *html.Node, value string) bool {
	options := cascadia.QueryAll(sel, cascadia.MustCompile("option"))
	var chosen *html.Node
	for _, o := range options {
		label := strings.TrimSpace(htmlquery.InnerText(o))
		if optionValue(o) == value || label == value {
			chosen = o
			break
		}
	}
	if chosen == nil {
		return false
	}
	for _, o := range options {
		removeAttr(o, "selected")
	}
	setAttr(chosen, "selected", "")
	return true
}

func optionValue(o *html.Node) string {
	for _, a := range o.Attr {
		if a.Key == "value" {
			return a.Val
		}
	}
	return strings.TrimSpace(htmlquery.InnerText(o))
}

func valueOf(n *html.Node) string {
	n = elementOf(n)
	switch n.DataAtom {
	case atom.Textarea:
		return htmlquery.InnerText(n)
	case atom.Select:
		if o := cascadia.Query(n, cascadia.MustCompile("option[selected]")); o != nil {
			return optionValue(o)
		}
		return ""
	}
	return attr(n, "value")
}

func setValue(n *html.Node, value string) {
	if n.DataAtom == atom.Textarea {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
		return
	}
	setAttr(n, "value", value)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}
