// internal/statesync/synchronizer.go
package statesync

import (
	"context"

	"github.com/zacharyisnthere/who-owns-you/internal/preference"
	"github.com/zacharyisnthere/who-owns-you/internal/seqclock"
	"go.uber.org/zap"
)

// Origin says where an update came from. It is only used for logging.
type Origin string

const (
	OriginInitial Origin = "initial"
	OriginChannel Origin = "channel"
	OriginPeer    Origin = "peer"
)

// Actuator performs the transitions the synchronizer decides on.
type Actuator interface {
	Enable(ctx context.Context)
	Disable(ctx context.Context)
}

// Synchronizer owns one agent instance's enabled flag. It is not safe for
// concurrent use; the agent calls it from its task loop only.
type Synchronizer struct {
	act    Actuator
	clock  *seqclock.Clock
	logger *zap.Logger

	enabled     bool
	lastApplied uint64
	initialized bool
	observe     func(origin Origin, applied bool)
}

// New creates a disabled synchronizer. clock may be nil.
func New(act Actuator, clock *seqclock.Clock, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		act:    act,
		clock:  clock,
		logger: logger.Named("statesync"),
	}
}

// OnUpdate registers fn to be told about every update and whether it was
// applied or discarded as stale.
func (s *Synchronizer) OnUpdate(fn func(origin Origin, applied bool)) {
	s.observe = fn
}

// Enabled reports the locally applied value.
func (s *Synchronizer) Enabled() bool { return s.enabled }

// LastApplied reports the sequence of the last accepted update.
func (s *Synchronizer) LastApplied() uint64 { return s.lastApplied }

// ApplyUpdate accepts the update when seq is not lower than the last applied
// sequence and fires a transition only when the value actually changes.
// It reports whether the update was accepted.
func (s *Synchronizer) ApplyUpdate(ctx context.Context, next bool, seq uint64, origin Origin) bool {
	if s.clock != nil {
		s.clock.Observe(seq)
	}
	if seq < s.lastApplied {
		s.logger.Debug("Discarding stale update.",
			zap.String("origin", string(origin)),
			zap.Uint64("seq", seq),
			zap.Uint64("last_applied", s.lastApplied))
		s.report(origin, false)
		return false
	}
	s.lastApplied = seq
	s.report(origin, true)
	if next == s.enabled {
		return true
	}

	s.enabled = next
	s.logger.Debug("Applying transition.",
		zap.String("origin", string(origin)),
		zap.Bool("enabled", next),
		zap.Uint64("seq", seq))
	if next {
		s.act.Enable(ctx)
	} else {
		s.act.Disable(ctx)
	}
	return true
}

func (s *Synchronizer) report(origin Origin, applied bool) {
	if s.observe != nil {
		s.observe(origin, applied)
	}
}

// ApplyDelta applies a change notification. A delta without a sequence
// cannot be ordered, so ApplyDelta returns true to ask the caller to re-read
// the full state. A delta with only a sequence just advances the clock.
func (s *Synchronizer) ApplyDelta(ctx context.Context, d preference.Delta, origin Origin) (needsRefresh bool) {
	if d.Sequence == nil {
		return true
	}
	if d.Enabled == nil {
		if s.clock != nil {
			s.clock.Observe(*d.Sequence)
		}
		return false
	}
	s.ApplyUpdate(ctx, *d.Enabled, *d.Sequence, origin)
	return false
}

// ApplyInitial applies the result of the startup read. Only the first call
// has an effect. A failed read leaves the agent disabled and is not reported
// further.
func (s *Synchronizer) ApplyInitial(ctx context.Context, st preference.State, err error) {
	if s.initialized {
		return
	}
	s.initialized = true
	if err != nil {
		s.logger.Debug("Preference channel unreachable; staying disabled.", zap.Error(err))
		return
	}
	s.ApplyUpdate(ctx, st.Enabled, st.Sequence, OriginInitial)
}

// Initialize reads the channel once and applies the result. Later calls do
// not touch the channel.
func (s *Synchronizer) Initialize(ctx context.Context, ch preference.Channel) {
	if s.initialized {
		return
	}
	st, err := ch.Get(ctx)
	s.ApplyInitial(ctx, st, err)
}
