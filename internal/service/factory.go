// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zacharyisnthere/who-owns-you/internal/browser"
	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"github.com/zacharyisnthere/who-owns-you/internal/control"
	"github.com/zacharyisnthere/who-owns-you/internal/observability"
	"github.com/zacharyisnthere/who-owns-you/internal/peer"
	"github.com/zacharyisnthere/who-owns-you/internal/preference"
)

// Options selects which outer surfaces Create builds.
type Options struct {
	// Browser attaches agents to browser tabs.
	Browser bool
	// Control serves the HTTP control endpoint when cfg.Control.Addr is set.
	Control bool
}

// ComponentFactory builds the component set for a command.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error)
}

// ChannelOpener opens the shared preference store.
type ChannelOpener func(ctx context.Context, cfg config.PreferenceConfig, logger *zap.Logger) (preference.Channel, error)

// BrowserOpener connects to the browser and prepares the agent factory.
type BrowserOpener func(ctx context.Context, cfg config.BrowserConfig, newAgent browser.AgentFactory, logger *zap.Logger) (BrowserManager, error)

type concreteFactory struct {
	openChannel ChannelOpener
	openBrowser BrowserOpener
}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{
		openChannel: preference.Open,
		openBrowser: func(ctx context.Context, cfg config.BrowserConfig, newAgent browser.AgentFactory, logger *zap.Logger) (BrowserManager, error) {
			mgr, err := browser.NewManager(ctx, cfg, newAgent, logger)
			if err != nil {
				return nil, err
			}
			return mgr, nil
		},
	}
}

// NewComponentFactoryWith lets tests substitute the store and browser.
func NewComponentFactoryWith(openChannel ChannelOpener, openBrowser BrowserOpener) ComponentFactory {
	return &concreteFactory{openChannel: openChannel, openBrowser: openBrowser}
}

// Create wires the components. Anything created before a failing step is
// shut down before the error is returned.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, opts Options, logger *zap.Logger) (*Components, error) {
	components := &Components{
		Metrics: observability.NewMetrics(),
		logger:  logger.Named("components"),
	}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Preference channel
	ch, err := f.openChannel(ctx, cfg.Preference, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open preference channel: %w", err)
		return nil, initializationErr
	}
	components.Channel = ch
	logger.Debug("Preference channel opened.", zap.String("backend", cfg.Preference.Backend))

	// 2. Sequence clock and dataset source
	components.Clock = NewClock(cfg.Preference)
	components.Source, err = InitializeSource(cfg.Agent, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}

	// 3. Peer bus
	components.Bus = peer.NewBus(logger, cfg.Agent.InboxSize)

	// 4. Browser and agents
	var reinit peer.Reinit
	if opts.Browser {
		newAgent := NewAgentFactory(cfg, components, logger)
		mgr, err := f.openBrowser(ctx, cfg.Browser, newAgent, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize browser manager: %w", err)
			return nil, initializationErr
		}
		components.Browser = mgr
		reinit = mgr.Reinit
		logger.Debug("Browser manager initialized.")
	}

	// 5. Control surface
	components.Surface = control.NewSurface(ch, components.Clock, components.Bus, reinit, logger).
		WithMetrics(components.Metrics)
	if opts.Control && cfg.Control.Addr != "" {
		components.Control = control.NewServer(cfg.Control, components.Surface, logger,
			control.WithMetricsHandler(components.Metrics.Handler()))
		logger.Debug("Control endpoint configured.", zap.String("addr", cfg.Control.Addr))
	}

	logger.Info("All components initialized successfully.")
	return components, nil
}
