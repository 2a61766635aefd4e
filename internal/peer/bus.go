// internal/peer/bus.go
package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotReady means the target has no mailbox yet or its mailbox is full.
	ErrNotReady = errors.New("peer: target not ready")
	// ErrClosed means the bus has been shut down.
	ErrClosed = errors.New("peer: bus closed")
)

// Message carries a preference change straight to one page context.
type Message struct {
	ID       string
	Enabled  bool
	Sequence uint64
	Origin   string
	SentAt   time.Time
}

// NewMessage stamps a message with a fresh id and the current time.
func NewMessage(origin string, enabled bool, sequence uint64) Message {
	return Message{
		ID:       uuid.NewString(),
		Enabled:  enabled,
		Sequence: sequence,
		Origin:   origin,
		SentAt:   time.Now().UTC(),
	}
}

// Sender delivers a message to a single target.
type Sender interface {
	Send(ctx context.Context, target string, msg Message) error
}

type mailbox struct {
	ch chan Message
}

// Bus is a point-to-point message bus with one buffered mailbox per target.
// Sends never block: a missing or full mailbox is reported as ErrNotReady.
type Bus struct {
	logger     *zap.Logger
	bufferSize int

	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	closed    bool
}

// NewBus creates a bus whose mailboxes hold bufferSize messages.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Bus{
		logger:     logger.Named("peer_bus"),
		bufferSize: bufferSize,
		mailboxes:  make(map[string]*mailbox),
	}
}

// Register opens the mailbox for target, replacing any previous one. The
// returned channel is closed by unregister or by Shutdown.
func (b *Bus) Register(target string) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}

	if old, ok := b.mailboxes[target]; ok {
		close(old.ch)
	}
	box := &mailbox{ch: make(chan Message, b.bufferSize)}
	b.mailboxes[target] = box

	var once sync.Once
	unregister := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// A newer registration for the same target owns the slot now.
			if cur, ok := b.mailboxes[target]; ok && cur == box {
				delete(b.mailboxes, target)
				close(box.ch)
			}
		})
	}
	return box.ch, unregister
}

// Send drops msg into target's mailbox without blocking.
func (b *Bus) Send(ctx context.Context, target string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	box, ok := b.mailboxes[target]
	if !ok {
		return fmt.Errorf("%w: no mailbox for %q", ErrNotReady, target)
	}
	select {
	case box.ch <- msg:
		return nil
	default:
		return fmt.Errorf("%w: mailbox for %q is full", ErrNotReady, target)
	}
}

// Targets lists the registered targets in sorted order.
func (b *Bus) Targets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.mailboxes))
	for t := range b.mailboxes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Shutdown closes every mailbox. Later sends return ErrClosed.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for t, box := range b.mailboxes {
		close(box.ch)
		delete(b.mailboxes, t)
	}
	b.logger.Debug("Peer bus shut down.")
}
