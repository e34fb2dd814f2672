package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{}, 0)
	assert.Equal(t, Epoch, clock.Peek())
	assert.Equal(t, Epoch, clock.Now())
}

func TestFakeClock_NowAdvancesByStep(t *testing.T) {
	clock := NewFakeClock(Epoch, time.Millisecond)

	first := clock.Now()
	second := clock.Now()

	assert.Equal(t, Epoch.Add(time.Millisecond), first)
	assert.Equal(t, Epoch.Add(2*time.Millisecond), second)
	assert.True(t, second.After(first))
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	clock := NewFakeClock(Epoch, 0)

	clock.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), clock.Peek())

	later := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestFakeClock_ConcurrentReadingsAreUnique(t *testing.T) {
	clock := NewFakeClock(Epoch, time.Nanosecond)

	const n = 100
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := clock.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
	assert.Equal(t, Epoch.Add(n*time.Nanosecond), clock.Peek())
}

func TestFixedIDs(t *testing.T) {
	ids := NewFixedIDs("bundle")
	assert.Equal(t, "bundle-1", ids.Generate())
	assert.Equal(t, "bundle-2", ids.Generate())

	ids.Reset()
	assert.Equal(t, "bundle-1", ids.Generate())

	assert.Equal(t, "id-1", NewFixedIDs("").Generate())
}
