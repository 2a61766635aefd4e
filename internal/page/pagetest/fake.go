// internal/page/pagetest/fake.go
package pagetest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/zacharyisnthere/who-owns-you/internal/navigation"
	"github.com/zacharyisnthere/who-owns-you/internal/page"
)

// ErrUnavailable is returned by every page call after SetUnavailable(true).
var ErrUnavailable = errors.New("pagetest: page unavailable")

// Element is one overlay element currently in the fake document.
type Element struct {
	ID     string
	Anchor string
	Key    string
	Markup string
}

type watcher struct {
	kind navigation.Kind
	fn   func()
}

// Fake is an in-memory page.Page. Overlay elements are tracked per anchor in
// document order with the same replace rules the in-page helper applies.
type Fake struct {
	mu          sync.Mutex
	location    string
	links       map[string]string
	anchors     map[string]bool
	elements    []Element
	watchers    map[int]watcher
	nextWatch   int
	unavailable bool
	refuse      map[navigation.Kind]bool
	inserts     int
}

var _ page.Page = (*Fake)(nil)

// New returns a fake page at location.
func New(location string) *Fake {
	return &Fake{
		location: location,
		links:    make(map[string]string),
		anchors:  make(map[string]bool),
		watchers: make(map[int]watcher),
		refuse:   make(map[navigation.Kind]bool),
	}
}

// Navigate changes the location, replaces links and anchors, and leaves any
// overlay whose anchor survived in place, like a host app reusing its layout.
func (f *Fake) Navigate(location string, links map[string]string, anchors ...string) {
	f.mu.Lock()
	f.location = location
	f.links = make(map[string]string, len(links))
	for k, v := range links {
		f.links[k] = v
	}
	f.anchors = make(map[string]bool, len(anchors))
	for _, a := range anchors {
		f.anchors[a] = true
	}
	kept := f.elements[:0]
	for _, el := range f.elements {
		if f.anchors[el.Anchor] {
			kept = append(kept, el)
		}
	}
	f.elements = kept
	f.mu.Unlock()
}

func (f *Fake) SetLink(selector, href string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[selector] = href
}

func (f *Fake) AddAnchor(selector string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchors[selector] = true
}

// SetUnavailable makes every page call fail, as a detached tab would.
func (f *Fake) SetUnavailable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = v
}

// Refuse makes Watch fail for kind.
func (f *Fake) Refuse(kind navigation.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refuse[kind] = true
}

// Inject places a foreign element with the overlay id under anchor, as a
// page script or an earlier agent instance might.
func (f *Fake) Inject(el Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elements = append(f.elements, el)
}

// Emit delivers one signal of kind to every listener for it.
func (f *Fake) Emit(kind navigation.Kind) {
	f.mu.Lock()
	var fns []func()
	for _, w := range f.watchers {
		if w.kind == kind {
			fns = append(fns, w.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Watchers reports how many listeners are installed.
func (f *Fake) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// Elements returns a copy of the overlay elements in document order.
func (f *Fake) Elements() []Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Element(nil), f.elements...)
}

// Inserts counts InsertOverlay calls that changed the document.
func (f *Fake) Inserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

// Text returns the visible text of the only overlay with id, or "" when
// there is not exactly one.
func (f *Fake) Text(id string) string {
	f.mu.Lock()
	var found []Element
	for _, el := range f.elements {
		if el.ID == id {
			found = append(found, el)
		}
	}
	f.mu.Unlock()
	if len(found) != 1 {
		return ""
	}
	return TextOf(found[0].Markup)
}

// TextOf extracts whitespace-normalised text content from markup, skipping
// style and script elements.
func TextOf(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "style" || n.Data == "script") {
			return
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func (f *Fake) Location(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	return f.location, nil
}

func (f *Fake) LinkHref(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	return f.links[selector], nil
}

func (f *Fake) InsertOverlay(ctx context.Context, o page.Overlay) (page.InsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return 0, err
	}

	var existing []Element
	for _, el := range f.elements {
		if el.ID == o.ID {
			existing = append(existing, el)
		}
	}
	if !f.anchors[o.Anchor] {
		f.removeLocked(o.ID)
		return page.NoAnchor, nil
	}
	if len(existing) == 1 && existing[0].Anchor == o.Anchor && existing[0].Key == o.Key {
		return page.Unchanged, nil
	}
	f.removeLocked(o.ID)
	f.elements = append([]Element{{ID: o.ID, Anchor: o.Anchor, Key: o.Key, Markup: o.Markup}}, f.elements...)
	f.inserts++
	return page.Inserted, nil
}

func (f *Fake) RemoveOverlay(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return 0, err
	}
	return f.removeLocked(id), nil
}

func (f *Fake) removeLocked(id string) int {
	kept := f.elements[:0]
	removed := 0
	for _, el := range f.elements {
		if el.ID == id {
			removed++
			continue
		}
		kept = append(kept, el)
	}
	f.elements = kept
	return removed
}

func (f *Fake) Watch(ctx context.Context, kind navigation.Kind, fn func()) (func(context.Context) error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	if f.refuse[kind] {
		return nil, errors.New("pagetest: signal refused")
	}
	id := f.nextWatch
	f.nextWatch++
	f.watchers[id] = watcher{kind: kind, fn: fn}
	return func(context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.watchers, id)
		return nil
	}, nil
}

func (f *Fake) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.unavailable {
		return ErrUnavailable
	}
	return nil
}
