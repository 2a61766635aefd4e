// File: internal/service/initializers_test.go
package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zacharyisnthere/who-owns-you/internal/config"
)

func TestNewClock(t *testing.T) {
	plain := NewClock(config.PreferenceConfig{})
	assert.Equal(t, uint64(1), plain.Next())

	wall := NewClock(config.PreferenceConfig{WallClock: true})
	assert.GreaterOrEqual(t, wall.Next(), uint64(time.Now().Add(-time.Minute).UnixMilli()))
}

func TestInitializeDataset(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("embedded", func(t *testing.T) {
		ds, err := InitializeDataset(config.AgentConfig{Dataset: "embedded"}, logger)
		require.NoError(t, err)
		recs, ok := ds.Records(context.Background())
		assert.True(t, ok)
		assert.NotEmpty(t, recs)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "channels.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"channel_id":"UCx","channel_name":"Acme","channel_tag":"@acme","owner":"Acme Corp"}]`), 0o644))

		ds, err := InitializeDataset(config.AgentConfig{Dataset: path}, logger)
		require.NoError(t, err)
		rec, ok := ds.Lookup(context.Background(), "@acme")
		require.True(t, ok)
		require.NotNil(t, rec)
		assert.Equal(t, "Acme Corp", rec.OwnerName())
	})
}
