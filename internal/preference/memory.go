// internal/preference/memory.go
package preference

import (
	"context"
	"sync"
)

// Memory is an in-process Channel shared by every tab a single process drives.
type Memory struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(Delta)
	nextID int
	closed bool
	done   chan struct{}
}

// NewMemory creates an empty in-process channel.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]func(Delta)), done: make(chan struct{})}
}

func (m *Memory) Get(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return State{}, ErrClosed
	}
	return m.state, nil
}

func (m *Memory) Set(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if s.Sequence < m.state.Sequence {
		m.mu.Unlock()
		return ErrStale
	}
	m.state = s
	listeners := make([]func(Delta), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(DeltaOf(s))
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, fn func(Delta)) (func(), error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-m.done:
		case <-stop:
		}
	}()
	return cancel, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.subs = make(map[int]func(Delta))
	close(m.done)
	return nil
}
