// internal/preference/channel.go
package preference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mitchellh/go-homedir"
	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"go.uber.org/zap"
)

// ErrStale is returned by Set when the store already holds a higher sequence.
var ErrStale = errors.New("preference: stale sequence")

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("preference: channel closed")

// State is the persisted on/off preference and the tag of the write that set it.
type State struct {
	Enabled  bool   `json:"enabled"`
	Sequence uint64 `json:"sequence"`
}

// Delta is a change notification. Either field may be missing.
type Delta struct {
	Enabled  *bool
	Sequence *uint64
}

// DeltaOf builds a complete delta from s.
func DeltaOf(s State) Delta {
	enabled, seq := s.Enabled, s.Sequence
	return Delta{Enabled: &enabled, Sequence: &seq}
}

// Channel is the shared, persisted preference store that every agent
// instance and the control surface read and write.
type Channel interface {
	Get(ctx context.Context) (State, error)
	// Set stores s unless the stored sequence is higher, in which case it
	// returns ErrStale and leaves the store untouched.
	Set(ctx context.Context, s State) error
	// Subscribe delivers change deltas to fn until cancel is called, ctx
	// ends, or the channel is closed. Delivery is at least once.
	Subscribe(ctx context.Context, fn func(Delta)) (cancel func(), err error)
	Close() error
}

// Open selects the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.PreferenceConfig, logger *zap.Logger) (Channel, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendMemory:
		return NewMemory(), nil

	case config.BackendFile:
		path, err := homedir.Expand(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand preference path: %w", err)
		}
		return NewFile(path, cfg.Key, logger)

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		pg, err := NewPostgres(ctx, pool, PoolListener(pool), PostgresOptions{
			Key:     cfg.Key,
			Channel: cfg.Channel,
			Closer:  pool.Close,
		}, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil

	default:
		return nil, fmt.Errorf("unknown preference backend %q", cfg.Backend)
	}
}
