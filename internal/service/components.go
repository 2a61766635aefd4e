// File: internal/service/components.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zacharyisnthere/who-owns-you/internal/control"
	"github.com/zacharyisnthere/who-owns-you/internal/observability"
	"github.com/zacharyisnthere/who-owns-you/internal/ownership"
	"github.com/zacharyisnthere/who-owns-you/internal/peer"
	"github.com/zacharyisnthere/who-owns-you/internal/preference"
	"github.com/zacharyisnthere/who-owns-you/internal/seqclock"
)

const shutdownTimeout = 30 * time.Second

// BrowserManager is the part of browser.Manager the service drives.
type BrowserManager interface {
	Start(ctx context.Context) error
	Reinit(ctx context.Context, target string) error
	Attached() []string
	Shutdown(ctx context.Context) error
}

// Components holds everything a running agent host needs and owns its
// teardown order.
type Components struct {
	Channel preference.Channel
	Clock   *seqclock.Clock
	Source  ownership.Source
	Bus     *peer.Bus
	Surface *control.Surface
	Control *control.Server
	Browser BrowserManager
	Metrics *observability.Metrics

	logger *zap.Logger
}

// Run starts the browser side and the control endpoint, then blocks until
// ctx ends or the endpoint fails.
func (c *Components) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if c.Browser != nil {
		if err := c.Browser.Start(gctx); err != nil {
			return err
		}
		c.logger.Info("Watching browser tabs.", zap.Strings("attached", c.Browser.Attached()))
	}
	if c.Control != nil {
		g.Go(func() error { return c.Control.ListenAndServe(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// Shutdown releases components in reverse dependency order: agents first,
// then the bus they read from, then the preference store.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.Browser != nil {
		// The caller's context is usually already canceled here.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.Browser.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.Bus != nil {
		c.Bus.Shutdown()
	}

	if c.Channel != nil {
		if err := c.Channel.Close(); err != nil {
			logger.Warn("Error closing preference channel.", zap.Error(err))
		} else {
			logger.Debug("Preference channel closed.")
		}
	}

	logger.Info("All components shut down.")
}
