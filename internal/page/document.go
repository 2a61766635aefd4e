// internal/page/document.go
package page

import (
	"context"
	"fmt"

	"github.com/zacharyisnthere/who-owns-you/internal/navigation"
	"github.com/zacharyisnthere/who-owns-you/internal/resolver"
)

// Overlay is one rendered overlay element. Key fingerprints Markup so an
// identical re-render can be recognised in the page without touching the DOM.
type Overlay struct {
	ID     string
	Anchor string
	Key    string
	Markup string
}

// InsertResult reports what InsertOverlay did.
type InsertResult int

const (
	// Inserted means every element with the overlay id was removed and one
	// new element was placed as the first child of the anchor.
	Inserted InsertResult = iota
	// Unchanged means exactly one element with the same key already sat in
	// the anchor.
	Unchanged
	// NoAnchor means the anchor is missing; stale overlay elements were removed.
	NoAnchor
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Unchanged:
		return "unchanged"
	case NoAnchor:
		return "no_anchor"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

func parseInsertResult(s string) (InsertResult, error) {
	switch s {
	case "inserted":
		return Inserted, nil
	case "unchanged":
		return Unchanged, nil
	case "no_anchor":
		return NoAnchor, nil
	default:
		return 0, fmt.Errorf("unexpected render result %q", s)
	}
}

// Document is the live host page as one agent instance sees it. Every
// overlay mutation happens in a single in-page step, so the page never
// shows two overlays or none in between.
type Document interface {
	resolver.Locator
	InsertOverlay(ctx context.Context, o Overlay) (InsertResult, error)
	RemoveOverlay(ctx context.Context, id string) (int, error)
}

// Page is a Document that also produces navigation signals.
type Page interface {
	Document
	navigation.Source
}
