// Package pageobject holds named descriptions of dashboard views: a URL
// template plus a table of symbolic element locators.
//
// Definitions are loaded once (usually from YAML). URLs and selectors are
// text/template strings resolved against the scratch state when a page is
// read from the registry, so values written by a provisioning run are
// visible to every page obtained after it.
package pageobject

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
	"github.com/kuitang/dashboard-e2e/internal/urlutil"
)

// ErrUnknownPage is returned when a page name was never registered.
var ErrUnknownPage = errors.New("pageobject: unknown page")

// ElementDef is one row of a page's element table.
type ElementDef struct {
	Selector       string `yaml:"selector"`
	LocateStrategy string `yaml:"locateStrategy,omitempty"`
}

// Definition is an unresolved page object.
type Definition struct {
	Name     string                `yaml:"name"`
	URL      string                `yaml:"url,omitempty"`
	Elements map[string]ElementDef `yaml:"elements"`
}

// Page is a definition resolved against one state value.
type Page struct {
	Name     string
	URL      string
	elements map[string]locator.Locator
}

// Element returns the locator registered under name.
func (p *Page) Element(name string) (locator.Locator, error) {
	loc, ok := p.elements[name]
	if !ok {
		return locator.Locator{}, errs.New(errs.InvalidArgument,
			fmt.Sprintf("page %q has no element %q", p.Name, name))
	}
	return loc, nil
}

// ElementNames returns the element names in sorted order.
func (p *Page) ElementNames() []string {
	names := make([]string, 0, len(p.elements))
	for name := range p.elements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type compiledElement struct {
	selector *template.Template
	strategy locator.Strategy
}

type compiledPage struct {
	name     string
	url      *template.Template
	elements map[string]compiledElement
	// templated is set when the URL or a selector references state.
	templated bool
}

// Validator is implemented by states that can report missing values before
// they are substituted into a page.
type Validator interface {
	Validate() error
}

// Registry maps page names to definitions.
type Registry struct {
	baseURL string

	mu    sync.RWMutex
	pages map[string]*compiledPage
}

// NewRegistry returns an empty registry. Relative page URLs are joined to
// baseURL when resolved.
func NewRegistry(baseURL string) *Registry {
	return &Registry{
		baseURL: urlutil.NormalizeBase(baseURL),
		pages:   make(map[string]*compiledPage),
	}
}

// Register compiles and adds a definition. Registering a name twice is an error.
func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errs.New(errs.InvalidArgument, "page definition without a name")
	}

	cp := &compiledPage{
		name:      name,
		elements:  make(map[string]compiledElement, len(def.Elements)),
		templated: strings.Contains(def.URL, "{{"),
	}
	var err error
	if cp.url, err = parseTemplate(name+".url", def.URL); err != nil {
		return err
	}
	for elemName, elem := range def.Elements {
		strategy, err := locator.ParseStrategy(elem.LocateStrategy)
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, fmt.Sprintf("page %q element %q", name, elemName), err)
		}
		if strings.TrimSpace(elem.Selector) == "" {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("page %q element %q has an empty selector", name, elemName))
		}
		tmpl, err := parseTemplate(name+"."+elemName, elem.Selector)
		if err != nil {
			return err
		}
		cp.elements[elemName] = compiledElement{selector: tmpl, strategy: strategy}
		cp.templated = cp.templated || strings.Contains(elem.Selector, "{{")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pages[name]; exists {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("page %q registered twice", name))
	}
	r.pages[name] = cp
	return nil
}

// Names returns the registered page names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pages))
	for name := range r.pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Page resolves the named page against state. state may be nil for pages
// whose templates reference nothing. A templated page rejects a state that
// implements Validator and fails it.
func (r *Registry) Page(name string, state any) (*Page, error) {
	r.mu.RLock()
	cp, ok := r.pages[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("page %q", name), ErrUnknownPage)
	}
	if v, ok := state.(Validator); ok && cp.templated {
		if err := v.Validate(); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("resolve page %q", name), err)
		}
	}

	rawURL, err := execute(cp.url, state)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("resolve url of page %q", name), err)
	}
	page := &Page{
		Name:     name,
		URL:      r.absolute(rawURL),
		elements: make(map[string]locator.Locator, len(cp.elements)),
	}
	for elemName, ce := range cp.elements {
		sel, err := execute(ce.selector, state)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("resolve element %q of page %q", elemName, name), err)
		}
		page.elements[elemName] = locator.Locator{Selector: sel, Strategy: ce.strategy}
	}
	return page, nil
}

// MustPage is Page for scenario code, where an unknown page is a programming
// error.
func (r *Registry) MustPage(name string, state any) *Page {
	page, err := r.Page(name, state)
	if err != nil {
		panic(err)
	}
	return page
}

func (r *Registry) absolute(raw string) string {
	if raw == "" {
		return raw
	}
	return urlutil.BuildAbsolute(r.baseURL, raw)
}

// Load decodes a YAML stream of page definitions and registers each one.
func (r *Registry) Load(rd io.Reader) error {
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	for {
		var def Definition
		err := dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, "decode page definitions", err)
		}
		if err := r.Register(def); err != nil {
			return err
		}
	}
}

// LoadFS loads every file in fsys matching pattern.
func (r *Registry) LoadFS(fsys fs.FS, pattern string) error {
	matches, err := fs.Glob(fsys, pattern)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "glob page definitions", err)
	}
	if len(matches) == 0 {
		return errs.New(errs.NotFound, fmt.Sprintf("no page definitions match %q", pattern))
	}
	for _, path := range matches {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return errs.Wrap(errs.Internal, fmt.Sprintf("read %s", path), err)
		}
		if err := r.Load(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("parse template %s", name), err)
	}
	return tmpl, nil
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
