// File: internal/service/initializers.go
package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zacharyisnthere/who-owns-you/internal/agent"
	"github.com/zacharyisnthere/who-owns-you/internal/browser"
	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"github.com/zacharyisnthere/who-owns-you/internal/ownership"
	"github.com/zacharyisnthere/who-owns-you/internal/page"
	"github.com/zacharyisnthere/who-owns-you/internal/seqclock"
)

// NewClock creates the process-wide sequence clock.
func NewClock(cfg config.PreferenceConfig) *seqclock.Clock {
	if cfg.WallClock {
		return seqclock.New(seqclock.WithWallClock(time.Now))
	}
	return seqclock.New()
}

// InitializeSource resolves the configured dataset location.
func InitializeSource(cfg config.AgentConfig, logger *zap.Logger) (ownership.Source, error) {
	src, err := ownership.NewSource(cfg.Dataset, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset %q: %w", cfg.Dataset, err)
	}
	logger.Debug("Ownership dataset configured.", zap.String("source", src.Describe()))
	return src, nil
}

// InitializeDataset wraps the configured source in a dataset for one-off
// lookups. Records load lazily on first lookup.
func InitializeDataset(cfg config.AgentConfig, logger *zap.Logger) (*ownership.Dataset, error) {
	src, err := InitializeSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	return ownership.NewDataset(src, logger), nil
}

// NewAgentFactory builds one agent per tab. Agents share the components'
// store, clock, dataset source and bus; each caches the dataset itself.
func NewAgentFactory(cfg *config.Config, c *Components, logger *zap.Logger) browser.AgentFactory {
	deps := agent.Deps{
		Channel: c.Channel,
		Bus:     c.Bus,
		Source:  c.Source,
		Clock:   c.Clock,
		Metrics: c.Metrics,
	}
	return func(id string, pg page.Page) browser.Agent {
		return agent.New(id, pg, deps, cfg, logger)
	}
}
