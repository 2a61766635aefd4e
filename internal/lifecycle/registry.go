// internal/lifecycle/registry.go
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDraining is returned by Register while a drain is running. The rejected
// resource has already been released when the caller sees it.
var ErrDraining = errors.New("lifecycle: registry is draining")

// Kind tags what a registry entry holds.
type Kind int

const (
	Timer Kind = iota
	Observer
	Abort
	Node
	Cleanup
)

func (k Kind) String() string {
	switch k {
	case Timer:
		return "timer"
	case Observer:
		return "observer"
	case Abort:
		return "abort"
	case Node:
		return "node"
	case Cleanup:
		return "cleanup"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Resource is anything that must be torn down when the agent is disabled.
type Resource struct {
	Kind    Kind
	Name    string
	Release func(ctx context.Context) error
}

// Handle identifies one registered resource. The zero Handle is never issued.
type Handle uint64

// Registry owns every timer, observer, abort handle, injected node and
// cleanup closure created while an agent is enabled.
type Registry struct {
	logger *zap.Logger

	mu       sync.Mutex
	entries  map[Handle]Resource
	next     Handle
	draining bool
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("lifecycle"),
		entries: make(map[Handle]Resource),
	}
}

// Register adds res to the registry. While a drain is in progress the
// resource is released on the spot and ErrDraining is returned.
func (r *Registry) Register(res Resource) (Handle, error) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		if err := r.release(context.Background(), res); err != nil {
			return 0, errors.Join(ErrDraining, err)
		}
		return 0, ErrDraining
	}
	r.next++
	h := r.next
	r.entries[h] = res
	r.mu.Unlock()
	return h, nil
}

// AfterFunc schedules fn after d as a Timer entry. A timer that fires removes
// its own entry before fn runs; a timer released first never calls fn.
func (r *Registry) AfterFunc(d time.Duration, name string, fn func()) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return 0, ErrDraining
	}

	r.next++
	h := r.next
	// The callback blocks on r.mu until this entry is stored.
	t := time.AfterFunc(d, func() {
		if r.Consume(h) {
			fn()
		}
	})
	r.entries[h] = Resource{
		Kind: Timer,
		Name: name,
		Release: func(context.Context) error {
			t.Stop()
			return nil
		},
	}
	return h, nil
}

// Release tears down a single entry. Unknown or already released handles are
// ignored.
func (r *Registry) Release(ctx context.Context, h Handle) error {
	r.mu.Lock()
	res, ok := r.entries[h]
	delete(r.entries, h)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.release(ctx, res)
}

// Consume removes an entry without running its release action and reports
// whether it was still registered.
func (r *Registry) Consume(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[h]; !ok {
		return false
	}
	delete(r.entries, h)
	return true
}

// Drain releases every entry exactly once, most recent first. Each release
// runs in isolation: an error or panic is collected and the drain carries on.
// Draining an empty registry is a no-op.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil
	}
	r.draining = true
	taken := r.entries
	r.entries = make(map[Handle]Resource)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.draining = false
		r.mu.Unlock()
	}()

	if len(taken) == 0 {
		return nil
	}

	handles := make([]Handle, 0, len(taken))
	for h := range taken {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] > handles[j] })

	var errs []error
	for _, h := range handles {
		if err := r.release(ctx, taken[h]); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Debug("Registry drained.", zap.Int("released", len(handles)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Len reports how many entries are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) release(ctx context.Context, res Resource) (err error) {
	if res.Release == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Release action panicked.",
				zap.Stringer("kind", res.Kind),
				zap.String("name", res.Name),
				zap.Any("panic", p))
			err = fmt.Errorf("release %s %q panicked: %v", res.Kind, res.Name, p)
		}
	}()
	if rerr := res.Release(ctx); rerr != nil {
		return fmt.Errorf("release %s %q: %w", res.Kind, res.Name, rerr)
	}
	return nil
}
