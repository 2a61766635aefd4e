// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/zacharyisnthere/who-owns-you/internal/ownership"
	"github.com/zacharyisnthere/who-owns-you/internal/peer"
	"github.com/zacharyisnthere/who-owns-you/internal/preference"
)

// -- Preference Channel Mock --

// MockChannel mocks preference.Channel.
type MockChannel struct {
	mock.Mock
}

var _ preference.Channel = (*MockChannel)(nil)

func (m *MockChannel) Get(ctx context.Context) (preference.State, error) {
	args := m.Called(ctx)
	return args.Get(0).(preference.State), args.Error(1)
}

func (m *MockChannel) Set(ctx context.Context, s preference.State) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

// Subscribe returns a no-op cancel unless the test supplies one.
func (m *MockChannel) Subscribe(ctx context.Context, fn func(preference.Delta)) (func(), error) {
	args := m.Called(ctx, fn)
	cancel, _ := args.Get(0).(func())
	if cancel == nil {
		cancel = func() {}
	}
	return cancel, args.Error(1)
}

func (m *MockChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Actuator Mock --

// MockActuator mocks statesync.Actuator.
type MockActuator struct {
	mock.Mock
}

func (m *MockActuator) Enable(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockActuator) Disable(ctx context.Context) {
	m.Called(ctx)
}

// -- Peer Sender Mock --

// MockSender mocks peer.Sender.
type MockSender struct {
	mock.Mock
}

var _ peer.Sender = (*MockSender)(nil)

func (m *MockSender) Send(ctx context.Context, target string, msg peer.Message) error {
	args := m.Called(ctx, target, msg)
	return args.Error(0)
}

// -- Dataset Source Mock --

// MockSource mocks ownership.Source.
type MockSource struct {
	mock.Mock
}

var _ ownership.Source = (*MockSource)(nil)

func (m *MockSource) Load(ctx context.Context) ([]ownership.Record, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]ownership.Record)
	return records, args.Error(1)
}

func (m *MockSource) Describe() string {
	args := m.Called()
	return args.String(0)
}
