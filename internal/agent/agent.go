// internal/agent/agent.go
package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"github.com/zacharyisnthere/who-owns-you/internal/lifecycle"
	"github.com/zacharyisnthere/who-owns-you/internal/navigation"
	"github.com/zacharyisnthere/who-owns-you/internal/observability"
	"github.com/zacharyisnthere/who-owns-you/internal/overlay"
	"github.com/zacharyisnthere/who-owns-you/internal/ownership"
	"github.com/zacharyisnthere/who-owns-you/internal/page"
	"github.com/zacharyisnthere/who-owns-you/internal/peer"
	"github.com/zacharyisnthere/who-owns-you/internal/preference"
	"github.com/zacharyisnthere/who-owns-you/internal/resolver"
	"github.com/zacharyisnthere/who-owns-you/internal/seqclock"
	"github.com/zacharyisnthere/who-owns-you/internal/statesync"
)

const teardownTimeout = 5 * time.Second

// Deps are the collaborators shared between agent instances.
type Deps struct {
	Channel preference.Channel
	// Bus may be nil when no control surface runs in this process.
	Bus *peer.Bus
	// Source feeds the agent's own dataset cache.
	Source ownership.Source
	Clock  *seqclock.Clock
	// Metrics may be nil.
	Metrics *observability.Metrics
}

type task func(ctx context.Context)

// Agent is one agent instance bound to one page context. Every state change
// runs on the goroutine executing Run; the fields below the loop marker are
// only touched there.
type Agent struct {
	id      string
	cfg     config.AgentConfig
	page    page.Page
	deps    Deps
	logger  *zap.Logger
	tasks   chan task
	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	reg      *lifecycle.Registry
	sync     *statesync.Synchronizer
	detector *navigation.Detector
	resolver *resolver.Resolver
	renderer *overlay.Renderer
	dataset  *ownership.Dataset

	enabled atomic.Bool
	passes  atomic.Int64

	// loop
	active     bool
	epoch      uint64
	inFlight   bool
	pending    bool
	inbox      <-chan peer.Message
	unregister func()
}

// New creates a disabled agent for pg. An empty id gets a random one.
func New(id string, pg page.Page, deps Deps, cfg *config.Config, logger *zap.Logger) *Agent {
	if id == "" {
		id = uuid.NewString()
	}
	a := &Agent{
		id:     id,
		cfg:    cfg.Agent,
		page:   pg,
		deps:   deps,
		logger: logger.Named("agent").With(zap.String("agent_id", id)),
		tasks:  make(chan task, 64),
		done:   make(chan struct{}),
	}
	a.reg = lifecycle.New(a.logger)
	a.sync = statesync.New(a, deps.Clock, a.logger)
	a.sync.OnUpdate(func(origin statesync.Origin, applied bool) {
		deps.Metrics.ObserveUpdate(string(origin), applied)
	})
	a.detector = navigation.New(pg, a.reg, cfg.Agent.DebounceWindow, a.onPageMayHaveChanged, a.logger)
	a.resolver = resolver.New(pg, cfg.Selectors, a.logger)
	a.renderer = overlay.NewRenderer(pg, cfg.Selectors, a.logger)
	a.dataset = ownership.NewDataset(deps.Source, a.logger)
	return a
}

// ID is the peer messaging target of this agent.
func (a *Agent) ID() string { return a.id }

// Enabled reports whether the agent is currently enabled.
func (a *Agent) Enabled() bool { return a.enabled.Load() }

// Passes counts completed resolve, lookup and render passes.
func (a *Agent) Passes() int64 { return a.passes.Load() }

// Run drives the agent until ctx ends. It subscribes to the preference
// channel, opens the peer mailbox, applies the stored preference once and
// then serves tasks. On return every registered resource has been released.
func (a *Agent) Run(ctx context.Context) error {
	select {
	case <-a.done:
		return ErrStopped
	default:
	}
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.Debug("Agent starting.")
	a.deps.Metrics.AgentStarted()
	defer a.deps.Metrics.AgentStopped()
	unsubscribe, err := a.deps.Channel.Subscribe(loopCtx, func(d preference.Delta) {
		a.post(func(ctx context.Context) { a.onDelta(ctx, d) })
	})
	if err != nil {
		// Peer messages and the initial read still work without it.
		a.logger.Warn("Preference subscription unavailable.", zap.Error(err))
		unsubscribe = func() {}
	}
	a.openMailbox()

	a.goOff(func() {
		st, err := a.deps.Channel.Get(loopCtx)
		a.post(func(ctx context.Context) { a.sync.ApplyInitial(ctx, st, err) })
	})

	for {
		select {
		case <-loopCtx.Done():
			a.shutdown(ctx, unsubscribe)
			return nil

		case t := <-a.tasks:
			t(loopCtx)

		case msg, ok := <-a.inbox:
			if !ok {
				a.inbox = nil
				continue
			}
			a.sync.ApplyUpdate(loopCtx, msg.Enabled, msg.Sequence, statesync.OriginPeer)
		}
	}
}

func (a *Agent) shutdown(ctx context.Context, unsubscribe func()) {
	a.stopped.Do(func() { close(a.done) })
	unsubscribe()
	if a.unregister != nil {
		a.unregister()
	}

	teardownCtx, cancel := context.WithTimeout(page.Detach(ctx), teardownTimeout)
	defer cancel()
	a.active = false
	a.enabled.Store(false)
	if err := a.reg.Drain(teardownCtx); err != nil {
		a.logger.Debug("Teardown left errors.", zap.Error(err))
	}
	a.wg.Wait()
	a.logger.Debug("Agent stopped.", zap.Int64("passes", a.Passes()))
}

// post queues t for the loop. It reports false once the loop has stopped.
func (a *Agent) post(t task) bool {
	select {
	case a.tasks <- t:
		return true
	case <-a.done:
		return false
	}
}

// goOff runs fn on its own goroutine; Run waits for it before returning.
func (a *Agent) goOff(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// ReopenMailbox replaces this agent's peer mailbox with an empty one. It is
// the re-initialisation step peer.Deliver takes before its retry.
func (a *Agent) ReopenMailbox(ctx context.Context) error {
	opened := make(chan struct{})
	if !a.post(func(context.Context) {
		a.openMailbox()
		close(opened)
	}) {
		return ErrStopped
	}
	select {
	case <-opened:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) openMailbox() {
	if a.deps.Bus == nil {
		return
	}
	if a.unregister != nil {
		a.unregister()
	}
	a.inbox, a.unregister = a.deps.Bus.Register(a.id)
}

func (a *Agent) onDelta(ctx context.Context, d preference.Delta) {
	if !a.sync.ApplyDelta(ctx, d, statesync.OriginChannel) {
		return
	}
	loopCtx := ctx
	a.goOff(func() {
		st, err := a.deps.Channel.Get(loopCtx)
		if err != nil {
			a.logger.Debug("Preference refresh failed.", zap.Error(err))
			return
		}
		a.post(func(ctx context.Context) {
			a.sync.ApplyUpdate(ctx, st.Enabled, st.Sequence, statesync.OriginChannel)
		})
	})
}

// Enable resets everything and starts watching the page. Enabling an enabled
// agent performs the same full restart.
func (a *Agent) Enable(ctx context.Context) {
	a.reset(ctx)
	a.epoch++
	a.active = true
	a.enabled.Store(true)
	if err := a.detector.Start(ctx); err != nil {
		a.logger.Warn("Navigation detection unavailable.", zap.Error(err))
	}
	a.logger.Info("Overlay enabled.")
	a.requestPass(ctx)
}

// Disable tears down every resource, which stops the detector and removes
// the overlay.
func (a *Agent) Disable(ctx context.Context) {
	a.epoch++
	a.active = false
	a.enabled.Store(false)
	a.reset(ctx)
	a.logger.Info("Overlay disabled.")
}

func (a *Agent) reset(ctx context.Context) {
	if err := a.reg.Drain(ctx); err != nil {
		a.logger.Debug("Drain reported errors.", zap.Error(err))
	}
	a.inFlight = false
	a.pending = false
}

// onPageMayHaveChanged is the detector callback. It runs on a timer goroutine.
func (a *Agent) onPageMayHaveChanged() {
	a.post(a.requestPass)
}

func (a *Agent) requestPass(ctx context.Context) {
	if !a.active {
		return
	}
	if a.inFlight {
		a.pending = true
		return
	}
	a.startPass(ctx)
}

// startPass resolves on the loop and looks the identifier up off the loop.
// The lookup's continuation carries the epoch it started in.
func (a *Agent) startPass(ctx context.Context) {
	a.inFlight = true
	epoch := a.epoch

	passCtx, cancel := context.WithTimeout(ctx, a.cfg.PassTimeout)
	res := a.resolver.Resolve(passCtx)
	if res.ID == nil {
		cancel()
		a.finishPass(ctx, epoch, func(ctx context.Context) { a.render(ctx, res, nil) })
		return
	}

	abort, err := a.reg.Register(lifecycle.Resource{
		Kind: lifecycle.Abort,
		Name: "pass",
		Release: func(context.Context) error {
			cancel()
			return nil
		},
	})
	if err != nil {
		cancel()
		a.inFlight = false
		return
	}

	query := res.ID.Value
	a.goOff(func() {
		defer cancel()
		rec, finished := a.dataset.Lookup(passCtx, query)
		a.post(func(ctx context.Context) {
			a.reg.Consume(abort)
			if !finished {
				// A nil record here means "not looked up", not "no match".
				a.logger.Debug("Lookup interrupted; skipping render.", zap.String("query", query))
				a.deps.Metrics.ObservePass("skipped")
				a.finishPass(ctx, epoch, nil)
				return
			}
			a.finishPass(ctx, epoch, func(ctx context.Context) { a.render(ctx, res, rec) })
		})
	})
}

// finishPass applies the outcome unless the agent was disabled or restarted
// since the pass began, then runs the one coalesced follow-up if any.
func (a *Agent) finishPass(ctx context.Context, epoch uint64, apply func(context.Context)) {
	if epoch != a.epoch || !a.active {
		return
	}
	if apply != nil {
		apply(ctx)
		a.passes.Add(1)
	}
	a.inFlight = false
	if a.pending {
		a.pending = false
		a.requestPass(ctx)
	}
}

func (a *Agent) render(ctx context.Context, res resolver.Resolution, rec *ownership.Record) {
	var (
		err     error
		outcome string
	)
	switch {
	case res.Page == resolver.Unsupported:
		_, err = a.renderer.Render(ctx, a.reg, res.Page, nil)
		outcome = "unsupported"
	case res.ID == nil:
		// Resolution failed for now; the next signal retries.
		err = a.renderer.Clear(ctx, a.reg)
		outcome = "unresolved"
	default:
		var out page.InsertResult
		out, err = a.renderer.Render(ctx, a.reg, res.Page, rec)
		outcome = out.String()
		if err == nil {
			a.logger.Debug("Pass rendered.",
				zap.Stringer("page", res.Page),
				zap.Stringer("id_kind", res.ID.Kind),
				zap.String("id", res.ID.Value),
				zap.Bool("matched", rec != nil),
				zap.Stringer("result", out))
		}
	}
	if err != nil && !errors.Is(err, lifecycle.ErrDraining) {
		a.logger.Debug("Render failed.", zap.Error(err))
		outcome = "error"
	}
	a.deps.Metrics.ObservePass(outcome)
}
