// internal/resolver/resolver.go
package resolver

import (
	"context"

	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"go.uber.org/zap"
)

// Locator reads the parts of the live page the resolver needs.
type Locator interface {
	Location(ctx context.Context) (string, error)
	// LinkHref returns the href of the first element matching selector, or
	// "" when nothing matches yet.
	LinkHref(ctx context.Context, selector string) (string, error)
}

// Resolution is the outcome of one resolve call. ID is nil when the page is
// unsupported or the identifier could not be extracted this time.
type Resolution struct {
	Page PageType
	URL  string
	ID   *Identifier
}

// Resolver turns the current page into an entity identifier. It keeps no
// state between calls.
type Resolver struct {
	loc       Locator
	selectors config.SelectorsConfig
	logger    *zap.Logger
}

// New creates a resolver.
func New(loc Locator, selectors config.SelectorsConfig, logger *zap.Logger) *Resolver {
	return &Resolver{loc: loc, selectors: selectors, logger: logger.Named("resolver")}
}

// Resolve classifies the page and extracts the identifier. Read failures and
// missing anchors yield a nil ID; the next navigation signal retries.
func (r *Resolver) Resolve(ctx context.Context) Resolution {
	loc, err := r.loc.Location(ctx)
	if err != nil {
		r.logger.Debug("Could not read location.", zap.Error(err))
		return Resolution{Page: Unsupported}
	}

	res := Resolution{Page: Classify(loc), URL: loc}
	var target string
	switch res.Page {
	case Unsupported:
		return res
	case CollectionView:
		target = loc
	default:
		sel := r.linkSelector(res.Page)
		href, err := r.loc.LinkHref(ctx, sel)
		if err != nil {
			r.logger.Debug("Could not read channel link.", zap.String("selector", sel), zap.Error(err))
			return res
		}
		if href == "" {
			// Not rendered yet.
			return res
		}
		target = href
	}

	if id, ok := MatchURL(target); ok {
		res.ID = &id
	}
	return res
}

func (r *Resolver) linkSelector(p PageType) string {
	if p == ShortFormView {
		return r.selectors.ShortForm.Link
	}
	return r.selectors.SingleItem.Link
}
