// internal/resolver/classify.go
package resolver

import (
	"net/url"
	"regexp"
	"strings"
)

// PageType is derived from the location alone.
type PageType int

const (
	Unsupported PageType = iota
	SingleItemView
	ShortFormView
	CollectionView
)

func (p PageType) String() string {
	switch p {
	case SingleItemView:
		return "single_item"
	case ShortFormView:
		return "short_form"
	case CollectionView:
		return "collection"
	default:
		return "unsupported"
	}
}

// Kind says which URL shape produced an identifier.
type Kind int

const (
	ByID Kind = iota
	ByHandle
	ByCustomName
)

func (k Kind) String() string {
	switch k {
	case ByID:
		return "by_id"
	case ByHandle:
		return "by_handle"
	case ByCustomName:
		return "by_custom_name"
	default:
		return "unknown"
	}
}

// Identifier names the entity a page is about.
type Identifier struct {
	Kind  Kind
	Value string
}

var shortsPath = regexp.MustCompile(`^/shorts/[A-Za-z0-9_-]+/?$`)

// Classify inspects the path (and for single items the query) of rawURL.
// Relative URLs are accepted.
func Classify(rawURL string) PageType {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Unsupported
	}
	path := u.Path
	switch {
	case path == "/watch" || path == "/watch/":
		if u.Query().Get("v") != "" {
			return SingleItemView
		}
		return Unsupported
	case shortsPath.MatchString(path):
		return ShortFormView
	case strings.HasPrefix(path, "/@"),
		strings.HasPrefix(path, "/c/"),
		strings.HasPrefix(path, "/channel/"):
		if _, ok := MatchURL(rawURL); ok {
			return CollectionView
		}
		return Unsupported
	default:
		return Unsupported
	}
}

type matcher struct {
	kind Kind
	re   *regexp.Regexp
}

// Tried in order; the first match wins.
var matchers = []matcher{
	{kind: ByID, re: regexp.MustCompile(`^/channel/([A-Za-z0-9_-]+)(?:/|$)`)},
	{kind: ByHandle, re: regexp.MustCompile(`^/@([A-Za-z0-9._-]+)(?:/|$)`)},
	{kind: ByCustomName, re: regexp.MustCompile(`^/c/([A-Za-z0-9_-]+)(?:/|$)`)},
}

// MatchURL extracts an identifier from the path of rawURL.
func MatchURL(rawURL string) (Identifier, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Identifier{}, false
	}
	for _, m := range matchers {
		if sub := m.re.FindStringSubmatch(u.Path); sub != nil {
			return Identifier{Kind: m.kind, Value: sub[1]}, true
		}
	}
	return Identifier{}, false
}
