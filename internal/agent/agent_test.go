// internal/agent/agent_test.go
package agent_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/zacharyisnthere/who-owns-you/internal/agent"
	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"github.com/zacharyisnthere/who-owns-you/internal/mocks"
	"github.com/zacharyisnthere/who-owns-you/internal/navigation"
	"github.com/zacharyisnthere/who-owns-you/internal/overlay"
	"github.com/zacharyisnthere/who-owns-you/internal/ownership"
	"github.com/zacharyisnthere/who-owns-you/internal/page/pagetest"
	"github.com/zacharyisnthere/who-owns-you/internal/peer"
	"github.com/zacharyisnthere/who-owns-you/internal/preference"
	"github.com/zacharyisnthere/who-owns-you/internal/seqclock"
)

const noMatch = "No ownership record found for this channel."

var rows = []ownership.Record{
	{ChannelID: "UC1", ChannelName: "Acme", ChannelTag: "acme", Owner: "Acme Corp", OwnershipType: "Full ownership"},
	{ChannelID: "UC2", ChannelName: "Globex", ChannelTag: "globex", Owner: "Globex Corporation", OwnershipType: "Partial stake"},
}

type staticSource []ownership.Record

func (s staticSource) Load(context.Context) ([]ownership.Record, error) { return s, nil }
func (s staticSource) Describe() string                                 { return "static" }

// gatedSource holds every Load until release is closed or the caller gives up.
type gatedSource struct {
	loads   chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSource() *gatedSource {
	return &gatedSource{loads: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gatedSource) Load(ctx context.Context) ([]ownership.Record, error) {
	g.loads <- struct{}{}
	select {
	case <-g.release:
		return rows, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedSource) Describe() string { return "gated" }

func (g *gatedSource) open() { g.once.Do(func() { close(g.release) }) }

func (g *gatedSource) waitLoad(t *testing.T) {
	t.Helper()
	select {
	case <-g.loads:
	case <-time.After(2 * time.Second):
		t.Fatal("dataset load never started")
	}
}

type harness struct {
	t       *testing.T
	cfg     *config.Config
	page    *pagetest.Fake
	channel preference.Channel
	bus     *peer.Bus
	agent   *agent.Agent
	stop    func()
}

func channelURL(id string) string { return "https://www.youtube.com/channel/" + id }

// newHarness builds an agent on a single item page whose owner link points
// at channelID.
func newHarness(t *testing.T, channelID string, debounce time.Duration, ch preference.Channel) *harness {
	t.Helper()
	return newHarnessWithSource(t, channelID, debounce, ch, staticSource(rows))
}

func newHarnessWithSource(t *testing.T, channelID string, debounce time.Duration, ch preference.Channel, src ownership.Source) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	cfg := config.NewDefaultConfig()
	cfg.Agent.DebounceWindow = debounce

	fake := pagetest.New("https://www.youtube.com/watch?v=abc123")
	fake.SetLink(cfg.Selectors.SingleItem.Link, channelURL(channelID))
	fake.AddAnchor(cfg.Selectors.SingleItem.Anchor)

	if ch == nil {
		ch = preference.NewMemory()
	}
	bus := peer.NewBus(logger, cfg.Agent.InboxSize)
	deps := agent.Deps{
		Channel: ch,
		Bus:     bus,
		Source:  src,
		Clock:   seqclock.New(),
	}
	return &harness{
		t:       t,
		cfg:     cfg,
		page:    fake,
		channel: ch,
		bus:     bus,
		agent:   agent.New("tab-1", fake, deps, cfg, logger),
	}
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.agent.Run(ctx) }()
	h.stop = func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(h.t, err)
		case <-time.After(5 * time.Second):
			h.t.Fatal("agent did not stop")
		}
		h.bus.Shutdown()
	}
}

func (h *harness) set(enabled bool, seq uint64) {
	require.NoError(h.t, h.channel.Set(context.Background(), preference.State{Enabled: enabled, Sequence: seq}))
}

func (h *harness) waitText(want string) {
	h.t.Helper()
	assert.Eventually(h.t, func() bool {
		return len(h.page.Elements()) == 1 && strings.Contains(h.page.Text(overlay.ElementID), want)
	}, 2*time.Second, 5*time.Millisecond, "overlay should read %q", want)
}

func (h *harness) waitPasses(n int64) {
	h.t.Helper()
	assert.Eventually(h.t, func() bool { return h.agent.Passes() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestAgent_RendersLookupResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	cases := []struct {
		name      string
		channelID string
		want      string
	}{
		{"UC1 renders Acme", "UC1", "Acme Corp"},
		{"UC2 renders Globex", "UC2", "Globex Corporation"},
		{"unknown id renders no match", "UC404", noMatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.channelID, 20*time.Millisecond, nil)
			h.set(true, 1)
			h.start()
			defer h.stop()

			h.waitText(tc.want)
			h.waitPasses(1)
			assert.True(t, h.agent.Enabled())
		})
	}
}

func TestAgent_StaysDisabledWhenChannelUnreachable(t *testing.T) {
	defer goleak.VerifyNone(t)

	read := make(chan struct{})
	ch := new(mocks.MockChannel)
	ch.On("Subscribe", mock.Anything, mock.Anything).Return(func() {}, nil)
	ch.On("Get", mock.Anything).
		Return(preference.State{}, errors.New("connection refused")).
		Run(func(mock.Arguments) { close(read) }).
		Once()

	h := newHarness(t, "UC1", 20*time.Millisecond, ch)
	h.start()

	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("initial read never happened")
	}
	time.Sleep(50 * time.Millisecond)
	assert.False(t, h.agent.Enabled())
	assert.Zero(t, h.agent.Passes())
	assert.Empty(t, h.page.Elements())
	h.stop()
	ch.AssertExpectations(t)
}

func TestAgent_FollowsChannelUpdates(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, "UC1", 20*time.Millisecond, nil)
	h.start()
	defer h.stop()

	assert.Never(t, h.agent.Enabled, 50*time.Millisecond, 5*time.Millisecond, "no stored preference means disabled")

	h.set(true, 2)
	h.waitText("Acme Corp")

	h.set(false, 3)
	assert.Eventually(t, func() bool { return !h.agent.Enabled() && len(h.page.Elements()) == 0 },
		time.Second, 5*time.Millisecond)
	assert.Zero(t, h.page.Watchers(), "disable removes every signal listener")

	// A stale peer message must not turn the agent back on.
	require.NoError(t, h.bus.Send(context.Background(), h.agent.ID(), peer.NewMessage("test", true, 2)))
	assert.Never(t, h.agent.Enabled, 100*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, h.bus.Send(context.Background(), h.agent.ID(), peer.NewMessage("test", true, 4)))
	h.waitText("Acme Corp")
}

func TestAgent_BurstProducesOnePass(t *testing.T) {
	defer goleak.VerifyNone(t)

	window := 40 * time.Millisecond
	h := newHarness(t, "UC1", window, nil)
	h.set(true, 1)
	h.start()
	defer h.stop()

	h.waitText("Acme Corp")
	h.waitPasses(1)

	for i := 0; i < 20; i++ {
		h.page.Emit(navigation.DOMMutated)
		if i%5 == 0 {
			h.page.Emit(navigation.AppNavigated)
		}
	}
	assert.Eventually(t, func() bool { return h.agent.Passes() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * window)
	assert.EqualValues(t, 2, h.agent.Passes())
	assert.Len(t, h.page.Elements(), 1)
}

func TestAgent_DisableWithPendingDebounce(t *testing.T) {
	defer goleak.VerifyNone(t)

	window := 300 * time.Millisecond
	h := newHarness(t, "UC1", window, nil)
	h.set(true, 1)
	h.start()
	defer h.stop()

	h.waitText("Acme Corp")
	h.waitPasses(1)
	h.page.Emit(navigation.DOMMutated)
	h.set(false, 2)

	assert.Eventually(t, func() bool { return !h.agent.Enabled() }, time.Second, 5*time.Millisecond)
	time.Sleep(2 * window)
	assert.EqualValues(t, 1, h.agent.Passes(), "the pending debounce must not run a pass")
	assert.Empty(t, h.page.Elements())
}

func TestAgent_NavigationRerenders(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, "UC1", 20*time.Millisecond, nil)
	h.set(true, 1)
	h.start()
	defer h.stop()
	h.waitText("Acme Corp")

	sel := h.cfg.Selectors
	h.page.Navigate("https://www.youtube.com/watch?v=other",
		map[string]string{sel.SingleItem.Link: channelURL("UC2")}, sel.SingleItem.Anchor)
	h.page.Emit(navigation.AppNavigated)
	h.waitText("Globex Corporation")

	t.Run("collection page uses the location", func(t *testing.T) {
		h.page.Navigate("https://www.youtube.com/@acme/videos", nil, sel.Collection.Anchor)
		h.page.Emit(navigation.AppNavigated)
		h.waitText("Acme Corp")
		assert.Equal(t, sel.Collection.Anchor, h.page.Elements()[0].Anchor)
	})

	t.Run("unsupported page clears the overlay", func(t *testing.T) {
		h.page.Navigate("https://www.youtube.com/feed/trending", nil, sel.Collection.Anchor)
		h.page.Emit(navigation.BecameVisible)
		assert.Eventually(t, func() bool { return len(h.page.Elements()) == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("missing owner link clears and waits", func(t *testing.T) {
		passes := h.agent.Passes()
		h.page.Navigate("https://www.youtube.com/watch?v=loading", nil, sel.SingleItem.Anchor)
		h.page.Emit(navigation.DOMMutated)
		assert.Eventually(t, func() bool { return h.agent.Passes() > passes }, time.Second, 5*time.Millisecond)
		assert.Empty(t, h.page.Elements())

		h.page.SetLink(sel.SingleItem.Link, channelURL("UC2"))
		h.page.Emit(navigation.DOMMutated)
		h.waitText("Globex Corporation")
	})
}

func TestAgent_RunExitReleasesEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, "UC1", 20*time.Millisecond, nil)
	h.set(true, 1)
	h.start()
	h.waitText("Acme Corp")
	require.NotZero(t, h.page.Watchers())

	h.stop()
	assert.Empty(t, h.page.Elements())
	assert.Zero(t, h.page.Watchers())
	assert.False(t, h.agent.Enabled())
	assert.Empty(t, h.bus.Targets())
	assert.ErrorIs(t, h.agent.ReopenMailbox(context.Background()), agent.ErrStopped)
	assert.ErrorIs(t, h.agent.Run(context.Background()), agent.ErrStopped)
}

func TestAgent_ReopenMailbox(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, "UC1", 20*time.Millisecond, nil)
	h.start()
	defer h.stop()

	assert.Eventually(t, func() bool { return len(h.bus.Targets()) == 1 }, time.Second, 5*time.Millisecond)

	// Take over the agent's slot and drop it, leaving no mailbox to send to.
	_, unregister := h.bus.Register(h.agent.ID())
	unregister()
	require.Empty(t, h.bus.Targets())

	reinit := func(ctx context.Context, target string) error { return h.agent.ReopenMailbox(ctx) }
	err := peer.Deliver(context.Background(), h.bus, h.agent.ID(), peer.NewMessage("test", true, 5), reinit)
	require.NoError(t, err)
	h.waitText("Acme Corp")
}

func TestAgent_SignalDuringLookupCoalesces(t *testing.T) {
	defer goleak.VerifyNone(t)

	window := 20 * time.Millisecond
	src := newGatedSource()
	h := newHarnessWithSource(t, "UC1", window, nil, src)
	h.set(true, 1)
	h.start()
	defer h.stop()
	defer src.open()

	src.waitLoad(t)
	// Two separate debounced signals land while the lookup is suspended.
	h.page.Emit(navigation.DOMMutated)
	time.Sleep(3 * window)
	h.page.Emit(navigation.AppNavigated)
	time.Sleep(3 * window)
	assert.Zero(t, h.agent.Passes())
	assert.Empty(t, h.page.Elements())

	src.open()
	h.waitText("Acme Corp")
	h.waitPasses(2)
	time.Sleep(3 * window)
	assert.EqualValues(t, 2, h.agent.Passes(), "queued signals collapse into one follow-up pass")
	assert.Len(t, h.page.Elements(), 1)
}

func TestAgent_DisableMidLookupDiscardsResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newGatedSource()
	h := newHarnessWithSource(t, "UC1", 20*time.Millisecond, nil, src)
	h.set(true, 1)
	h.start()
	defer h.stop()
	defer src.open()

	src.waitLoad(t)
	h.set(false, 2)
	assert.Eventually(t, func() bool { return !h.agent.Enabled() }, time.Second, 5*time.Millisecond)

	src.open()
	assert.Never(t, func() bool { return h.agent.Passes() > 0 || len(h.page.Elements()) > 0 },
		150*time.Millisecond, 5*time.Millisecond, "a lookup started before the disable must not render")
}

func TestAgent_OtherTabCancellationDoesNotFakeNoMatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := newGatedSource()
	first := newHarnessWithSource(t, "UC1", 20*time.Millisecond, nil, src)
	second := newHarnessWithSource(t, "UC1", 20*time.Millisecond, nil, src)
	first.set(true, 1)
	second.set(true, 1)
	first.start()
	defer first.stop()
	second.start()
	defer second.stop()
	defer src.open()

	// Each agent loads through its own cache.
	src.waitLoad(t)
	src.waitLoad(t)

	first.set(false, 2)
	assert.Eventually(t, func() bool { return !first.agent.Enabled() }, time.Second, 5*time.Millisecond)

	src.open()
	second.waitText("Acme Corp")
	assert.NotContains(t, second.page.Text(overlay.ElementID), noMatch)
	assert.Empty(t, first.page.Elements())
}
