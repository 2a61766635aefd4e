// internal/preference/postgres.go
package preference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// DBPool is the subset of pgxpool.Pool the postgres channel needs, so pgxmock
// can stand in for it in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Notifier yields notifications from a connection that has issued LISTEN.
type Notifier interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Listener opens a dedicated LISTEN session on a notification channel.
type Listener func(ctx context.Context, channel string) (Notifier, error)

// PostgresOptions names the row and notification channel used.
type PostgresOptions struct {
	Key     string
	Channel string
	// Closer, when set, is called by Close. Open uses it to close the pool it created.
	Closer func()
}

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS woy_preferences (
		key        TEXT PRIMARY KEY,
		enabled    BOOLEAN NOT NULL,
		sequence   BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

	selectStateSQL = `SELECT enabled, sequence FROM woy_preferences WHERE key = $1`

	// The WHERE clause keeps the row append-only by sequence.
	upsertStateSQL = `INSERT INTO woy_preferences (key, enabled, sequence, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET enabled = EXCLUDED.enabled, sequence = EXCLUDED.sequence, updated_at = now()
		WHERE woy_preferences.sequence <= EXCLUDED.sequence`

	notifySQL = `SELECT pg_notify($1, $2)`
)

// notification is the pg_notify payload.
type notification struct {
	Key      string  `json:"key"`
	Enabled  *bool   `json:"enabled,omitempty"`
	Sequence *uint64 `json:"sequence,omitempty"`
}

// Postgres keeps the preference in a single row and fans changes out with
// LISTEN/NOTIFY.
type Postgres struct {
	pool   DBPool
	listen Listener
	opts   PostgresOptions
	log    *zap.Logger

	mu     sync.Mutex
	subs   map[int]context.CancelFunc
	nextID int
	wg     sync.WaitGroup
	closed bool
}

// NewPostgres creates a postgres channel and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, listen Listener, opts PostgresOptions, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{
		pool:   pool,
		listen: listen,
		opts:   opts,
		log:    logger.Named("preference.postgres"),
		subs:   make(map[int]context.CancelFunc),
	}, nil
}

// EnsureSchema creates the preference table when it is missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create preference table: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context) (State, error) {
	var (
		enabled bool
		seq     int64
	)
	err := p.pool.QueryRow(ctx, selectStateSQL, p.opts.Key).Scan(&enabled, &seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read preference: %w", err)
	}
	return State{Enabled: enabled, Sequence: uint64(seq)}, nil
}

func (p *Postgres) Set(ctx context.Context, s State) error {
	payload, err := json.Marshal(notification{Key: p.opts.Key, Enabled: &s.Enabled, Sequence: &s.Sequence})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, upsertStateSQL, p.opts.Key, s.Enabled, int64(s.Sequence))
	if err != nil {
		p.rollback(ctx, tx)
		return fmt.Errorf("failed to store preference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		p.rollback(ctx, tx)
		return ErrStale
	}
	if _, err := tx.Exec(ctx, notifySQL, p.opts.Channel, string(payload)); err != nil {
		p.rollback(ctx, tx)
		return fmt.Errorf("failed to notify preference change: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		p.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}

func (p *Postgres) Subscribe(ctx context.Context, fn func(Delta)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	n, err := p.listen(ctx, p.opts.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %q: %w", p.opts.Channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	id := p.nextID
	p.nextID++
	p.subs[id] = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.receive(subCtx, n, fn)
	}()

	return func() {
		cancel()
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}, nil
}

func (p *Postgres) receive(ctx context.Context, n Notifier, fn func(Delta)) {
	defer func() {
		// The session context is already done; closing needs a fresh one.
		if err := n.Close(context.Background()); err != nil {
			p.log.Debug("Failed to close listener.", zap.Error(err))
		}
	}()

	for {
		msg, err := n.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warn("Preference listener stopped.", zap.Error(err))
			}
			return
		}

		var note notification
		if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
			// Deliver an empty delta so the subscriber re-reads the row.
			p.log.Debug("Undecodable preference notification.", zap.Error(err))
			fn(Delta{})
			continue
		}
		if note.Key != p.opts.Key {
			continue
		}
		fn(Delta{Enabled: note.Enabled, Sequence: note.Sequence})
	}
}

// Close stops every subscription and releases the pool when Open created it.
func (p *Postgres) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for id, cancel := range p.subs {
		cancel()
		delete(p.subs, id)
	}
	p.mu.Unlock()

	p.wg.Wait()
	if p.opts.Closer != nil {
		p.opts.Closer()
	}
	return nil
}

// PoolListener returns a Listener that holds one pooled connection per
// subscription for the duration of the LISTEN session.
func PoolListener(pool *pgxpool.Pool) Listener {
	return func(ctx context.Context, channel string) (Notifier, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire connection: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, err
		}
		return &pooledNotifier{conn: conn, channel: channel}, nil
	}
}

type pooledNotifier struct {
	conn    *pgxpool.Conn
	channel string
}

func (n *pooledNotifier) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return n.conn.Conn().WaitForNotification(ctx)
}

func (n *pooledNotifier) Close(ctx context.Context) error {
	defer n.conn.Release()
	_, err := n.conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{n.channel}.Sanitize())
	return err
}
