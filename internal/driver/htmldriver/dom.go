package htmldriver

import (
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/kuitang/dashboard-e2e/internal/locator"
)

// DOM is the mutation surface handed to hooks. It is only valid for the
// duration of the hook call. Selector errors inside a hook panic, since hooks
// are test fixtures.
type DOM struct {
	d *Driver
}

// After schedules fn to run once delay has elapsed. Navigation drops pending
// mutations.
func (m *DOM) After(delay time.Duration, fn Hook) {
	m.d.pending = append(m.d.pending, mutation{due: m.d.now().Add(delay), fn: fn})
}

// Remove detaches every element matching loc.
func (m *DOM) Remove(loc locator.Locator) {
	for _, n := range m.mustQuery(loc) {
		n = elementOf(n)
		if n != nil && n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

// AppendHTML parses fragment and appends it to the first element matching
// parent.
func (m *DOM) AppendHTML(parent locator.Locator, fragment string) {
	target, children := m.fragment("AppendHTML", parent, fragment)
	for _, c := range children {
		target.AppendChild(c)
	}
}

// PrependHTML parses fragment and inserts it before the first child of the
// first element matching parent.
func (m *DOM) PrependHTML(parent locator.Locator, fragment string) {
	target, children := m.fragment("PrependHTML", parent, fragment)
	first := target.FirstChild
	for _, c := range children {
		target.InsertBefore(c, first)
	}
}

// SetAttr sets an attribute on every element matching loc.
func (m *DOM) SetAttr(loc locator.Locator, key, val string) {
	for _, n := range m.mustQuery(loc) {
		setAttr(elementOf(n), key, val)
	}
}

// RemoveAttr removes an attribute from every element matching loc.
func (m *DOM) RemoveAttr(loc locator.Locator, key string) {
	for _, n := range m.mustQuery(loc) {
		removeAttr(elementOf(n), key)
	}
}

// Show clears the hidden attribute and inline style of every match.
func (m *DOM) Show(loc locator.Locator) {
	for _, n := range m.mustQuery(loc) {
		el := elementOf(n)
		removeAttr(el, "hidden")
		removeAttr(el, "style")
	}
}

// Hide sets the hidden attribute on every match.
func (m *DOM) Hide(loc locator.Locator) {
	m.SetAttr(loc, "hidden", "")
}

// Value returns the current value of the first element matching loc, or ""
// when nothing matches.
func (m *DOM) Value(loc locator.Locator) string {
	nodes := m.mustQuery(loc)
	if len(nodes) == 0 {
		return ""
	}
	return valueOf(nodes[0])
}

// Count returns the number of elements matching loc.
func (m *DOM) Count(loc locator.Locator) int {
	return len(m.mustQuery(loc))
}

func (m *DOM) fragment(op string, parent locator.Locator, fragment string) (*html.Node, []*html.Node) {
	nodes := m.mustQuery(parent)
	if len(nodes) == 0 {
		panic("htmldriver: " + op + ": no element matches " + parent.String())
	}
	target := elementOf(nodes[0])
	children, err := html.ParseFragment(strings.NewReader(fragment), target)
	if err != nil {
		panic("htmldriver: " + op + ": " + err.Error())
	}
	return target, children
}

func (m *DOM) mustQuery(loc locator.Locator) []*html.Node {
	nodes, err := m.d.query(loc)
	if err != nil {
		panic("htmldriver: " + err.Error())
	}
	return nodes
}
