// Package locator describes how an element is found in the dashboard DOM: a
// selector string plus the strategy (CSS or XPath) used to resolve it.
//
// A Locator always carries its own strategy. The engine-prefixed string form
// ("css=..." / "xpath=...") is what the chain passes around and what
// Playwright accepts natively; unprefixed strings take the caller's current
// mode.
package locator

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"

	"github.com/kuitang/dashboard-e2e/internal/errs"
)

// Strategy selects the selector engine.
type Strategy int

const (
	CSS Strategy = iota
	XPath
)

const (
	cssPrefix   = "css="
	xpathPrefix = "xpath="
)

func (s Strategy) String() string {
	switch s {
	case CSS:
		return "css"
	case XPath:
		return "xpath"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy maps the page-table spelling ("", "css", "css selector",
// "xpath") to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "css", "css selector":
		return CSS, nil
	case "xpath":
		return XPath, nil
	}
	return CSS, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown locate strategy %q", s))
}

// Locator is a selector plus the strategy used to resolve it.
type Locator struct {
	Selector string
	Strategy Strategy
}

// ByCSS returns a CSS locator.
func ByCSS(selector string) Locator {
	return Locator{Selector: selector, Strategy: CSS}
}

// ByXPath returns an XPath locator.
func ByXPath(selector string) Locator {
	return Locator{Selector: selector, Strategy: XPath}
}

// String renders the engine-prefixed form.
func (l Locator) String() string {
	if l.Strategy == XPath {
		return xpathPrefix + l.Selector
	}
	return cssPrefix + l.Selector
}

// IsZero reports whether l has no selector.
func (l Locator) IsZero() bool {
	return l.Selector == ""
}

// Parse turns a selector string into a Locator. An explicit "css=" or
// "xpath=" prefix wins; otherwise mode applies.
func Parse(s string, mode Strategy) (Locator, error) {
	var loc Locator
	switch {
	case strings.HasPrefix(s, xpathPrefix):
		loc = ByXPath(strings.TrimPrefix(s, xpathPrefix))
	case strings.HasPrefix(s, cssPrefix):
		loc = ByCSS(strings.TrimPrefix(s, cssPrefix))
	default:
		loc = Locator{Selector: s, Strategy: mode}
	}
	if strings.TrimSpace(loc.Selector) == "" {
		return Locator{}, errs.New(errs.InvalidArgument, "empty selector")
	}
	return loc, nil
}

// Validate compiles the selector with the engine its strategy names.
func Validate(l Locator) error {
	if strings.TrimSpace(l.Selector) == "" {
		return errs.New(errs.InvalidArgument, "empty selector")
	}
	switch l.Strategy {
	case CSS:
		if _, err := cascadia.ParseGroup(l.Selector); err != nil {
			return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid css selector %q", l.Selector), err)
		}
	case XPath:
		if _, err := xpath.Compile(l.Selector); err != nil {
			return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("invalid xpath %q", l.Selector), err)
		}
	default:
		return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown strategy %v", l.Strategy))
	}
	return nil
}

// Literal quotes s as an XPath 1.0 string literal. Strings holding both quote
// kinds are split into a concat() call.
func Literal(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	args := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if p != "" {
			args = append(args, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}
