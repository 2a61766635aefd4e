// internal/control/surface_test.go
package control

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zacharyisnthere/who-owns-you/internal/mocks"
	"github.com/zacharyisnthere/who-owns-you/internal/peer"
	"github.com/zacharyisnthere/who-owns-you/internal/preference"
	"github.com/zacharyisnthere/who-owns-you/internal/seqclock"
)

func TestSurface_SetWritesAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	ch := preference.NewMemory()
	require.NoError(t, ch.Set(ctx, preference.State{Enabled: false, Sequence: 41}))

	bus := peer.NewBus(logger, 4)
	t.Cleanup(bus.Shutdown)
	inboxA, _ := bus.Register("tab-a")
	inboxB, _ := bus.Register("tab-b")

	s := NewSurface(ch, seqclock.New(), bus, nil, logger)
	st, err := s.Set(ctx, true)
	require.NoError(t, err)

	assert.True(t, st.Enabled)
	assert.Equal(t, uint64(42), st.Sequence, "the write must outrank the stored sequence")

	stored, err := ch.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, stored)

	for _, inbox := range []<-chan peer.Message{inboxA, inboxB} {
		select {
		case msg := <-inbox:
			assert.True(t, msg.Enabled)
			assert.Equal(t, uint64(42), msg.Sequence)
			assert.Equal(t, Origin, msg.Origin)
		default:
			t.Fatal("expected a broadcast message")
		}
	}
}

func TestSurface_Toggle(t *testing.T) {
	ctx := context.Background()
	ch := preference.NewMemory()
	s := NewSurface(ch, nil, nil, nil, zaptest.NewLogger(t))

	st, err := s.Toggle(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled, "absent preference reads as off, so the first toggle turns it on")

	st, err = s.Toggle(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Equal(t, uint64(2), st.Sequence)
}

func TestSurface_RetriesStaleWrites(t *testing.T) {
	ctx := context.Background()
	ch := new(mocks.MockChannel)
	ch.On("Get", mock.Anything).Return(preference.State{Sequence: 5}, nil).Once()
	ch.On("Set", mock.Anything, preference.State{Enabled: true, Sequence: 6}).Return(preference.ErrStale).Once()
	ch.On("Get", mock.Anything).Return(preference.State{Sequence: 9}, nil).Once()
	ch.On("Set", mock.Anything, preference.State{Enabled: true, Sequence: 10}).Return(nil).Once()

	s := NewSurface(ch, seqclock.New(), nil, nil, zaptest.NewLogger(t))
	st, err := s.Set(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), st.Sequence)
	ch.AssertExpectations(t)
}

func TestSurface_GivesUpAfterRepeatedStaleWrites(t *testing.T) {
	ch := new(mocks.MockChannel)
	ch.On("Get", mock.Anything).Return(preference.State{}, nil)
	ch.On("Set", mock.Anything, mock.Anything).Return(preference.ErrStale)

	s := NewSurface(ch, nil, nil, nil, zaptest.NewLogger(t))
	_, err := s.Set(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, preference.ErrStale)
	ch.AssertNumberOfCalls(t, "Set", maxStaleRetries+1)
}

func TestSurface_ReadFailure(t *testing.T) {
	ch := new(mocks.MockChannel)
	ch.On("Get", mock.Anything).Return(preference.State{}, errors.New("disk gone"))

	s := NewSurface(ch, nil, nil, nil, zaptest.NewLogger(t))
	_, err := s.Toggle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	ch.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
}

func TestSurface_BroadcastReinitsMissingTarget(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	bus := peer.NewBus(logger, 1)
	t.Cleanup(bus.Shutdown)

	_, unregister := bus.Register("tab-a")
	unregister()

	var (
		reinits []string
		inbox   <-chan peer.Message
	)
	reinit := func(ctx context.Context, target string) error {
		reinits = append(reinits, target)
		inbox, _ = bus.Register(target)
		return nil
	}

	// Targets is empty after unregister, so list it explicitly.
	peers := fixedTargets{Bus: bus, targets: []string{"tab-a"}}
	s := NewSurface(preference.NewMemory(), nil, peers, reinit, logger)
	_, err := s.Set(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"tab-a"}, reinits)
	require.NotNil(t, inbox)
	msg := <-inbox
	assert.True(t, msg.Enabled)
}

type fixedTargets struct {
	*peer.Bus
	targets []string
}

func (f fixedTargets) Targets() []string { return f.targets }
