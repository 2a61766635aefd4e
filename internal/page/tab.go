// internal/page/tab.go
package page

import (
	"context"
	_ "embed"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/zacharyisnthere/who-owns-you/internal/navigation"
)

//go:embed js/agent.js
var helperScript string

// BindingName is the CDP binding the page helper reports signals through.
const BindingName = "__woySignal"

var kindNames = map[navigation.Kind]string{
	navigation.AppNavigated:  "app_navigated",
	navigation.DOMMutated:    "dom_mutated",
	navigation.BecameVisible: "became_visible",
}

// helperCall invokes a method of the in-page helper.
type helperCall func(ctx context.Context, res interface{}, method string, args ...interface{}) error

type listener struct {
	kind navigation.Kind
	fn   func()
}

type signalPayload struct {
	Kind  string `json:"kind"`
	Token string `json:"token"`
}

// Tab drives one browser tab through chromedp. It implements Page.
type Tab struct {
	ctx    context.Context
	logger *zap.Logger
	invoke helperCall

	mu        sync.Mutex
	listeners map[string]listener
}

// NewTab wraps a chromedp tab context.
func NewTab(tabCtx context.Context, logger *zap.Logger) *Tab {
	t := &Tab{
		ctx:       tabCtx,
		logger:    logger.Named("tab"),
		listeners: make(map[string]listener),
	}
	t.invoke = t.call
	return t
}

// Context returns the chromedp tab context.
func (t *Tab) Context() context.Context { return t.ctx }

// Install exposes the signal binding, installs the helper for the current
// document and every later one, and starts listening for CDP events.
func (t *Tab) Install(ctx context.Context) error {
	chromedp.ListenTarget(t.ctx, t.onEvent)

	err := t.run(ctx,
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(helperScript).Do(c)
			return err
		}),
		chromedp.Evaluate(helperScript, nil),
	)
	if err != nil {
		return fmt.Errorf("failed to install page helper: %w", err)
	}
	return nil
}

func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// call evaluates expr after making sure the helper exists in the document.
func (t *Tab) call(ctx context.Context, res interface{}, method string, args ...interface{}) error {
	encoded := make([]byte, 0, 64)
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to encode argument %d for %s: %w", i, method, err)
		}
		if i > 0 {
			encoded = append(encoded, ',')
		}
		encoded = append(encoded, b...)
	}
	expr := fmt.Sprintf("%s;\nwindow.__woy.%s(%s)", helperScript, method, encoded)
	return t.run(ctx, chromedp.Evaluate(expr, res))
}

func (t *Tab) Location(ctx context.Context) (string, error) {
	var loc string
	if err := t.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (t *Tab) LinkHref(ctx context.Context, selector string) (string, error) {
	var href string
	if err := t.invoke(ctx, &href, "linkHref", selector); err != nil {
		return "", err
	}
	return href, nil
}

func (t *Tab) InsertOverlay(ctx context.Context, o Overlay) (InsertResult, error) {
	var out string
	if err := t.invoke(ctx, &out, "render", o.ID, o.Anchor, o.Key, o.Markup); err != nil {
		return 0, err
	}
	return parseInsertResult(out)
}

func (t *Tab) RemoveOverlay(ctx context.Context, id string) (int, error) {
	var n int
	if err := t.invoke(ctx, &n, "remove", id); err != nil {
		return 0, err
	}
	return n, nil
}

// Watch installs an in-page listener for kind. Same-document navigations
// reported by CDP also count as AppNavigated.
func (t *Tab) Watch(ctx context.Context, kind navigation.Kind, fn func()) (func(context.Context) error, error) {
	name, ok := kindNames[kind]
	if !ok {
		return nil, fmt.Errorf("unknown signal kind %v", kind)
	}
	token := uuid.NewString()

	t.mu.Lock()
	t.listeners[token] = listener{kind: kind, fn: fn}
	t.mu.Unlock()

	var installed bool
	if err := t.invoke(ctx, &installed, "watch", name, token); err != nil || !installed {
		t.mu.Lock()
		delete(t.listeners, token)
		t.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("page helper rejected %s", name)
		}
		return nil, err
	}

	return func(ctx context.Context) error {
		t.mu.Lock()
		delete(t.listeners, token)
		t.mu.Unlock()
		var removed bool
		return t.invoke(ctx, &removed, "unwatch", token)
	}, nil
}

func (t *Tab) watching(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.listeners[token]
	return ok
}

func (t *Tab) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != BindingName {
			return
		}
		var p signalPayload
		if err := json.Unmarshal([]byte(e.Payload), &p); err != nil {
			t.logger.Debug("Ignoring malformed signal.", zap.String("payload", e.Payload), zap.Error(err))
			return
		}
		t.mu.Lock()
		l, ok := t.listeners[p.Token]
		t.mu.Unlock()
		if ok {
			t.dispatch(l.fn)
		}

	case *page.EventNavigatedWithinDocument:
		t.fanOut(navigation.AppNavigated)

	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		// A new document dropped the in-page watchers. CDP callbacks must not
		// block, so re-arming happens on its own goroutine.
		go t.rearm()
		t.fanOut(navigation.AppNavigated)
	}
}

func (t *Tab) fanOut(kind navigation.Kind) {
	t.mu.Lock()
	var fns []func()
	for _, l := range t.listeners {
		if l.kind == kind {
			fns = append(fns, l.fn)
		}
	}
	t.mu.Unlock()
	for _, fn := range fns {
		t.dispatch(fn)
	}
}

func (t *Tab) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Panic in signal listener.",
				zap.Any("panic_reason", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

func (t *Tab) rearm() {
	t.mu.Lock()
	tokens := make(map[string]navigation.Kind, len(t.listeners))
	for token, l := range t.listeners {
		tokens[token] = l.kind
	}
	t.mu.Unlock()

	for token, kind := range tokens {
		if !t.watching(token) {
			continue
		}
		var ok bool
		if err := t.invoke(t.ctx, &ok, "watch", kindNames[kind], token); err != nil {
			t.logger.Debug("Failed to re-arm watcher.", zap.Stringer("kind", kind), zap.Error(err))
			continue
		}
		// A release during the call sent its unwatch before our watch landed.
		if !t.watching(token) {
			var removed bool
			if err := t.invoke(t.ctx, &removed, "unwatch", token); err != nil {
				t.logger.Debug("Failed to drop released watcher.", zap.Stringer("kind", kind), zap.Error(err))
			}
		}
	}
}
