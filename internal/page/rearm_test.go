// internal/page/rearm_test.go
package page

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zacharyisnthere/who-owns-you/internal/navigation"
)

// fakeHelper stands in for the in-page helper and tracks which tokens have a
// live observer in the document.
type fakeHelper struct {
	mu      sync.Mutex
	armed   map[string]bool
	onWatch func(token string)
}

func (f *fakeHelper) call(_ context.Context, res interface{}, method string, args ...interface{}) error {
	switch method {
	case "watch":
		token := args[1].(string)
		if f.onWatch != nil {
			f.onWatch(token)
		}
		f.mu.Lock()
		f.armed[token] = true
		f.mu.Unlock()
		*res.(*bool) = true
	case "unwatch":
		token := args[0].(string)
		f.mu.Lock()
		delete(f.armed, token)
		f.mu.Unlock()
		*res.(*bool) = true
	}
	return nil
}

func (f *fakeHelper) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for token := range f.armed {
		out = append(out, token)
	}
	return out
}

func newFakeTab(t *testing.T) (*Tab, *fakeHelper) {
	tab := NewTab(context.Background(), zaptest.NewLogger(t))
	helper := &fakeHelper{armed: make(map[string]bool)}
	tab.invoke = helper.call
	return tab, helper
}

func TestTab_RearmSkipsReleasedWatchers(t *testing.T) {
	ctx := context.Background()

	t.Run("a release racing the re-arm call leaves no observer", func(t *testing.T) {
		tab, helper := newFakeTab(t)
		release, err := tab.Watch(ctx, navigation.DOMMutated, func() {})
		require.NoError(t, err)

		// The document was replaced; its observers are gone.
		helper.armed = make(map[string]bool)
		helper.onWatch = func(string) {
			helper.onWatch = nil
			require.NoError(t, release(ctx))
		}
		tab.rearm()

		assert.Empty(t, helper.tokens())
		assert.Empty(t, tab.listeners)
	})

	t.Run("a watcher released before its turn is not re-armed", func(t *testing.T) {
		tab, helper := newFakeTab(t)
		releases := make(map[navigation.Kind]func(context.Context) error)
		for _, kind := range []navigation.Kind{navigation.DOMMutated, navigation.BecameVisible} {
			release, err := tab.Watch(ctx, kind, func() {})
			require.NoError(t, err)
			releases[kind] = release
		}
		tokenKind := make(map[string]navigation.Kind)
		for token, l := range tab.listeners {
			tokenKind[token] = l.kind
		}

		helper.armed = make(map[string]bool)
		var survivor string
		helper.onWatch = func(token string) {
			helper.onWatch = nil
			survivor = token
			for other, kind := range tokenKind {
				if other != token {
					require.NoError(t, releases[kind](ctx))
				}
			}
		}
		tab.rearm()

		assert.Equal(t, []string{survivor}, helper.tokens())
	})
}
