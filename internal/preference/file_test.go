// internal/preference/file_test.go
package preference

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestFile(t *testing.T, path string) *File {
	t.Helper()
	f, err := NewFile(path, "woy_enabled", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFile_GetSet(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "preference.json")
	f := newTestFile(t, path)

	t.Run("a missing file reads as disabled", func(t *testing.T) {
		s, err := f.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, State{}, s)
	})

	t.Run("writes land in the documented shape", func(t *testing.T) {
		require.NoError(t, f.Set(ctx, State{Enabled: true, Sequence: 9}))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"woy_enabled": true, "sequence": 9}`, string(raw))

		s, err := f.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, State{Enabled: true, Sequence: 9}, s)
	})

	t.Run("lower sequences are rejected", func(t *testing.T) {
		assert.ErrorIs(t, f.Set(ctx, State{Enabled: false, Sequence: 3}), ErrStale)
		s, _ := f.Get(ctx)
		assert.True(t, s.Enabled)
	})

	t.Run("no temp files are left behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "preference.json", entries[0].Name())
	})

	t.Run("a corrupt file is reported by Get and replaced by Set", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := f.Get(ctx)
		assert.Error(t, err)

		require.NoError(t, f.Set(ctx, State{Enabled: false, Sequence: 1}))
		s, err := f.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, State{Enabled: false, Sequence: 1}, s)
	})
}

func TestFile_SubscribeSeesWritesFromAnotherInstance(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "preference.json")
	reader := newTestFile(t, path)
	writer := newTestFile(t, path)

	var (
		mu  sync.Mutex
		got []State
	)
	cancel, err := reader.Subscribe(ctx, func(d Delta) {
		mu.Lock()
		got = append(got, State{Enabled: *d.Enabled, Sequence: *d.Sequence})
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, writer.Set(ctx, State{Enabled: true, Sequence: 2}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1] == State{Enabled: true, Sequence: 2}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFile_CloseStopsSubscriptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preference.json")
	f, err := NewFile(path, "woy_enabled", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = f.Subscribe(context.Background(), func(Delta) {})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = f.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.ErrorIs(t, f.Set(context.Background(), State{Sequence: 1}), ErrClosed)
	_, err = f.Subscribe(context.Background(), func(Delta) {})
	assert.ErrorIs(t, err, ErrClosed)
}
