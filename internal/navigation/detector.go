// internal/navigation/detector.go
package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zacharyisnthere/who-owns-you/internal/lifecycle"
	"go.uber.org/zap"
)

// Kind is one of the independent signals that the page may have changed.
type Kind int

const (
	// AppNavigated is the host application's own navigation-finished event.
	AppNavigated Kind = iota
	// DOMMutated fires on any structural change to the document.
	DOMMutated
	// BecameVisible fires when the page returns to the foreground or is
	// restored from the back-forward cache.
	BecameVisible
)

// Kinds lists every signal the detector subscribes to.
var Kinds = []Kind{AppNavigated, DOMMutated, BecameVisible}

func (k Kind) String() string {
	switch k {
	case AppNavigated:
		return "app_navigated"
	case DOMMutated:
		return "dom_mutated"
	case BecameVisible:
		return "became_visible"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Source installs a listener for one signal kind. fn may be called from any
// goroutine. The returned release removes the listener.
type Source interface {
	Watch(ctx context.Context, kind Kind, fn func()) (release func(context.Context) error, err error)
}

// State of the detector.
type State int

const (
	Idle State = iota
	Watching
)

func (s State) String() string {
	if s == Watching {
		return "watching"
	}
	return "idle"
}

// Detector merges the signal kinds behind one debouncer and calls onChange
// once per quiet period. Every listener and the pending timer live in the
// registry, so draining it stops the detector.
type Detector struct {
	src      Source
	reg      *lifecycle.Registry
	window   time.Duration
	onChange func()
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	timer   lifecycle.Handle
	handles []lifecycle.Handle
	signals map[Kind]int
}

// New creates an idle detector.
func New(src Source, reg *lifecycle.Registry, window time.Duration, onChange func(), logger *zap.Logger) *Detector {
	return &Detector{
		src:      src,
		reg:      reg,
		window:   window,
		onChange: onChange,
		logger:   logger.Named("navigation"),
		signals:  make(map[Kind]int),
	}
}

// Start moves Idle to Watching. Individual signal kinds may fail to install;
// Start only fails when none of them did. Starting a watching detector is a no-op.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state == Watching {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	var (
		handles []lifecycle.Handle
		errs    []error
	)
	for _, kind := range Kinds {
		kind := kind
		release, err := d.src.Watch(ctx, kind, func() { d.signal(kind) })
		if err != nil {
			d.logger.Debug("Signal unavailable.", zap.Stringer("kind", kind), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		h, err := d.reg.Register(lifecycle.Resource{Kind: lifecycle.Observer, Name: kind.String(), Release: release})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		handles = append(handles, h)
	}
	if len(handles) == 0 {
		return fmt.Errorf("no navigation signal could be installed: %w", errors.Join(errs...))
	}

	// Draining the registry returns the detector to Idle.
	idle, err := d.reg.Register(lifecycle.Resource{
		Kind: lifecycle.Cleanup,
		Name: "navigation.idle",
		Release: func(context.Context) error {
			d.markIdle()
			return nil
		},
	})
	if err != nil {
		for _, h := range handles {
			_ = d.reg.Release(ctx, h)
		}
		return err
	}

	d.mu.Lock()
	d.state = Watching
	d.handles = append(handles, idle)
	d.mu.Unlock()
	return nil
}

// Stop moves Watching to Idle, removing every listener and any pending timer.
func (d *Detector) Stop(ctx context.Context) error {
	d.mu.Lock()
	handles := d.handles
	if d.timer != 0 {
		handles = append(handles, d.timer)
	}
	d.handles = nil
	d.timer = 0
	d.state = Idle
	d.gen++
	d.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := d.reg.Release(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// State reports whether the detector is watching.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// SignalCount reports how many raw signals of kind arrived while watching.
func (d *Detector) SignalCount(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.signals[kind]
}

func (d *Detector) markIdle() {
	d.mu.Lock()
	d.state = Idle
	d.handles = nil
	d.timer = 0
	d.gen++
	d.mu.Unlock()
}

// signal restarts the quiet period.
func (d *Detector) signal(kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Watching {
		return
	}
	d.signals[kind]++
	d.gen++
	gen := d.gen

	if d.timer != 0 {
		_ = d.reg.Release(context.Background(), d.timer)
		d.timer = 0
	}
	h, err := d.reg.AfterFunc(d.window, "navigation.debounce", func() { d.fire(gen) })
	if err != nil {
		// The registry is draining; the detector is about to go idle.
		return
	}
	d.timer = h
}

func (d *Detector) fire(gen uint64) {
	d.mu.Lock()
	if d.state != Watching || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = 0
	d.mu.Unlock()

	d.onChange()
}
