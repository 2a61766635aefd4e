// internal/seqclock/clock_test.go
package seqclock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_Next(t *testing.T) {
	t.Parallel()

	t.Run("issues strictly increasing tags", func(t *testing.T) {
		c := New()
		assert.Equal(t, uint64(1), c.Next())
		assert.Equal(t, uint64(2), c.Next())
		assert.Equal(t, uint64(2), c.Last())
	})

	t.Run("observed tags push the counter forward", func(t *testing.T) {
		c := New()
		c.Next()
		c.Observe(41)
		assert.Equal(t, uint64(42), c.Next())
	})

	t.Run("observing an older tag changes nothing", func(t *testing.T) {
		c := New()
		c.Observe(10)
		c.Observe(3)
		assert.Equal(t, uint64(10), c.Last())
	})

	t.Run("the wall clock acts as a floor", func(t *testing.T) {
		at := time.UnixMilli(1_700_000_000_000)
		c := New(WithWallClock(func() time.Time { return at }))

		assert.Equal(t, uint64(1_700_000_000_000), c.Next())
		// Same millisecond: the counter still advances.
		assert.Equal(t, uint64(1_700_000_000_001), c.Next())

		at = at.Add(time.Second)
		assert.Equal(t, uint64(1_700_000_001_000), c.Next())
	})

	t.Run("a clock that runs backwards never regresses tags", func(t *testing.T) {
		at := time.UnixMilli(5_000)
		c := New(WithWallClock(func() time.Time { return at }))
		first := c.Next()
		at = time.UnixMilli(1_000)
		assert.Greater(t, c.Next(), first)
	})
}

func TestClock_ConcurrentNextIsUnique(t *testing.T) {
	t.Parallel()
	c := New()

	const workers, perWorker = 8, 250
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]struct{}, workers*perWorker)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				tag := c.Next()
				mu.Lock()
				seen[tag] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker, "every tag must be unique")
	assert.Equal(t, uint64(workers*perWorker), c.Last())
}
