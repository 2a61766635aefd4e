// internal/control/surface.go
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/zacharyisnthere/who-owns-you/internal/observability"
	"github.com/zacharyisnthere/who-owns-you/internal/peer"
	"github.com/zacharyisnthere/who-owns-you/internal/preference"
	"github.com/zacharyisnthere/who-owns-you/internal/seqclock"
)

// Origin tags messages the control surface broadcasts.
const Origin = "control"

// maxStaleRetries bounds how often a write that lost a race is retried
// with a fresh sequence.
const maxStaleRetries = 3

// Peers is the peer messaging side of the surface.
type Peers interface {
	peer.Sender
	Targets() []string
}

// Surface is the toggle control. It writes the preference through the
// shared channel and pushes the change straight to every page context.
type Surface struct {
	channel preference.Channel
	clock   *seqclock.Clock
	peers   Peers
	reinit  peer.Reinit
	logger  *zap.Logger
	metrics *observability.Metrics

	mu sync.Mutex
}

// NewSurface creates a surface. peers and reinit may be nil when no agents
// run in this process.
func NewSurface(ch preference.Channel, clock *seqclock.Clock, peers Peers, reinit peer.Reinit, logger *zap.Logger) *Surface {
	if clock == nil {
		clock = seqclock.New()
	}
	return &Surface{
		channel: ch,
		clock:   clock,
		peers:   peers,
		reinit:  reinit,
		logger:  logger.Named("control"),
	}
}

// WithMetrics counts dropped broadcasts in m.
func (s *Surface) WithMetrics(m *observability.Metrics) *Surface {
	s.metrics = m
	return s
}

// State reads the stored preference.
func (s *Surface) State(ctx context.Context) (preference.State, error) {
	st, err := s.channel.Get(ctx)
	if err != nil {
		return preference.State{}, fmt.Errorf("failed to read preference: %w", err)
	}
	return st, nil
}

// Set stores enabled under a sequence newer than anything seen so far and
// broadcasts it.
func (s *Surface) Set(ctx context.Context, enabled bool) (preference.State, error) {
	return s.update(ctx, func(preference.State) bool { return enabled })
}

// Toggle flips the stored value.
func (s *Surface) Toggle(ctx context.Context) (preference.State, error) {
	return s.update(ctx, func(cur preference.State) bool { return !cur.Enabled })
}

func (s *Surface) update(ctx context.Context, next func(preference.State) bool) (preference.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; ; attempt++ {
		cur, err := s.State(ctx)
		if err != nil {
			return preference.State{}, err
		}
		s.clock.Observe(cur.Sequence)
		st := preference.State{Enabled: next(cur), Sequence: s.clock.Next()}

		err = s.channel.Set(ctx, st)
		if errors.Is(err, preference.ErrStale) && attempt < maxStaleRetries {
			s.logger.Debug("Preference moved on during write; retrying.", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return preference.State{}, fmt.Errorf("failed to store preference: %w", err)
		}

		s.logger.Info("Preference updated.", zap.Bool("enabled", st.Enabled), zap.Uint64("seq", st.Sequence))
		s.broadcast(ctx, st)
		return st, nil
	}
}

// broadcast is best effort: the channel subscription is the delivery path
// of record and peers that miss the message converge through it.
func (s *Surface) broadcast(ctx context.Context, st preference.State) {
	if s.peers == nil {
		return
	}
	msg := peer.NewMessage(Origin, st.Enabled, st.Sequence)
	for _, target := range s.peers.Targets() {
		if err := peer.Deliver(ctx, s.peers, target, msg, s.reinit); err != nil {
			s.logger.Debug("Dropped peer message.", zap.String("target", target), zap.Error(err))
			s.metrics.PeerDropped()
		}
	}
}
