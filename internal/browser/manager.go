// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"github.com/zacharyisnthere/who-owns-you/internal/page"
)

const attachTimeout = 15 * time.Second

// ErrUnknownTarget is returned by Reinit for a tab without an agent.
var ErrUnknownTarget = errors.New("browser: no agent attached to target")

// Agent is what the manager runs for every matching tab.
type Agent interface {
	Run(ctx context.Context) error
	ReopenMailbox(ctx context.Context) error
}

// AgentFactory builds the agent for one tab. id is the tab's target id.
type AgentFactory func(id string, pg page.Page) Agent

type attachment struct {
	cancel context.CancelFunc
	agent  Agent
	ready  chan struct{}
}

// Manager owns the browser connection and one agent per matching tab.
type Manager struct {
	cfg      config.BrowserConfig
	logger   *zap.Logger
	hosts    HostMatcher
	newAgent AgentFactory

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	runCtx    context.Context
	runCancel context.CancelFunc
	group     *errgroup.Group

	mu      sync.Mutex
	tabs    map[target.ID]*attachment
	stopped bool
}

// NewManager connects to, or launches, the browser described by cfg.
func NewManager(ctx context.Context, cfg config.BrowserConfig, newAgent AgentFactory, logger *zap.Logger) (*Manager, error) {
	allocCtx, allocCancel := NewAllocator(context.WithoutCancel(ctx), cfg)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	startCtx, cancel := page.CombineContext(browserCtx, ctx)
	defer cancel()
	if err := chromedp.Run(startCtx, chromedp.ActionFunc(func(c context.Context) error {
		return target.SetDiscoverTargets(true).Do(c)
	})); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser (allocator %q): %w", cfg.Allocator, err)
	}

	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	group, runCtx := errgroup.WithContext(runCtx)
	m := &Manager{
		cfg:           cfg,
		logger:        logger.Named("browser_manager"),
		hosts:         NewHostMatcher(cfg.Hosts),
		newAgent:      newAgent,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		runCtx:        runCtx,
		runCancel:     runCancel,
		group:         group,
		tabs:          make(map[target.ID]*attachment),
	}
	m.logger.Info("Browser connected.", zap.String("allocator", cfg.Allocator))
	return m, nil
}

// Start attaches to every open matching tab, follows tabs as they appear,
// navigate and close, and opens the configured start URLs.
func (m *Manager) Start(ctx context.Context) error {
	chromedp.ListenBrowser(m.browserCtx, m.onBrowserEvent)

	listCtx, cancel := page.CombineContext(m.browserCtx, ctx)
	defer cancel()

	infos, err := chromedp.Targets(listCtx)
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}
	for _, info := range infos {
		m.consider(info)
	}

	for _, u := range m.cfg.StartURLs {
		if err := chromedp.Run(listCtx, chromedp.ActionFunc(func(c context.Context) error {
			_, err := target.CreateTarget(u).Do(c)
			return err
		})); err != nil {
			m.logger.Warn("Failed to open start URL.", zap.String("url", u), zap.Error(err))
		}
	}
	return nil
}

// onBrowserEvent runs on chromedp's event goroutine and must not block.
func (m *Manager) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		m.consider(e.TargetInfo)
	case *target.EventTargetInfoChanged:
		m.consider(e.TargetInfo)
	case *target.EventTargetDestroyed:
		m.detach(e.TargetID)
	}
}

func (m *Manager) consider(info *target.Info) {
	if info == nil || info.Type != "page" || !m.hosts.Match(info.URL) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if _, ok := m.tabs[info.TargetID]; ok {
		return
	}

	runCtx, cancel := context.WithCancel(m.runCtx)
	att := &attachment{cancel: cancel, ready: make(chan struct{})}
	m.tabs[info.TargetID] = att

	id := info.TargetID
	m.group.Go(func() error {
		defer m.forget(id, att)
		m.runTab(runCtx, id, att)
		return nil
	})
}

func (m *Manager) runTab(ctx context.Context, id target.ID, att *attachment) {
	logger := m.logger.With(zap.String("target_id", string(id)))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in tab agent.",
				zap.Any("panic_reason", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	tabCtx, cancelTab := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(id))
	// Cancelling a chromedp tab context closes the tab. Tabs of a remote
	// browser belong to the user and are left to the browser teardown.
	if !m.remote() {
		defer cancelTab()
	}

	attachCtx, cancel := context.WithTimeout(ctx, attachTimeout)
	defer cancel()
	tab := page.NewTab(tabCtx, m.logger)
	if err := chromedp.Run(tabCtx); err != nil {
		logger.Warn("Failed to attach to tab.", zap.Error(err))
		return
	}
	if err := tab.Install(attachCtx); err != nil {
		logger.Warn("Failed to install page helper.", zap.Error(err))
		return
	}

	agent := m.newAgent(string(id), tab)
	m.mu.Lock()
	att.agent = agent
	close(att.ready)
	m.mu.Unlock()

	logger.Info("Agent attached.")
	if err := agent.Run(ctx); err != nil {
		logger.Warn("Agent exited with error.", zap.Error(err))
	}
	logger.Info("Agent detached.")
}

func (m *Manager) detach(id target.ID) {
	m.mu.Lock()
	att, ok := m.tabs[id]
	m.mu.Unlock()
	if ok {
		att.cancel()
	}
}

func (m *Manager) forget(id target.ID, att *attachment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.tabs[id]; ok && cur == att {
		delete(m.tabs, id)
	}
	att.cancel()
}

// Attached lists the target ids that currently run an agent.
func (m *Manager) Attached() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tabs))
	for id, att := range m.tabs {
		if att.agent != nil {
			out = append(out, string(id))
		}
	}
	return out
}

// Reinit re-opens the peer mailbox of the agent on target. It satisfies
// peer.Reinit.
func (m *Manager) Reinit(ctx context.Context, targetID string) error {
	m.mu.Lock()
	att, ok := m.tabs[target.ID(targetID)]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
	}
	select {
	case <-att.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return att.agent.ReopenMailbox(ctx)
}

// Shutdown stops every agent, waiting up to ctx for their teardown, then
// releases the browser. An exec allocated browser is closed; a remote one
// is only disconnected from.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	m.logger.Info("Shutting down browser manager.")
	m.runCancel()

	done := make(chan error, 1)
	go func() { done <- m.group.Wait() }()

	var err error
	select {
	case err = <-done:
		m.logger.Info("All agents detached.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for agents to detach. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
		err = ctx.Err()
	}

	if m.remote() {
		// Dropping the connection first keeps the remote tabs open.
		m.allocCancel()
		m.browserCancel()
		return err
	}
	if cerr := chromedp.Cancel(m.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
		m.logger.Debug("Browser close reported an error.", zap.Error(cerr))
	}
	m.browserCancel()
	m.allocCancel()
	return err
}

func (m *Manager) remote() bool {
	return strings.EqualFold(m.cfg.Allocator, config.AllocatorRemote)
}
