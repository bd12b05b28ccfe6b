package whatsapp

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeenCache_CheckAndMark(t *testing.T) {
	c := newSeenCache(time.Minute, 10)

	require.False(t, c.CheckAndMark("wamid.1"))
	require.True(t, c.CheckAndMark("wamid.1"))
	require.False(t, c.CheckAndMark("wamid.2"))
}

func TestSeenCache_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newSeenCache(time.Minute, 10)
	c.now = func() time.Time { return now }

	require.False(t, c.CheckAndMark("wamid.1"))
	now = now.Add(59 * time.Second)
	require.True(t, c.CheckAndMark("wamid.1"))
	now = now.Add(2 * time.Second)
	require.False(t, c.CheckAndMark("wamid.1"), "entry should have expired")
}

func TestSeenCache_EvictsOldest(t *testing.T) {
	c := newSeenCache(time.Hour, 2)

	require.False(t, c.CheckAndMark("a"))
	require.False(t, c.CheckAndMark("b"))
	require.False(t, c.CheckAndMark("c"))

	require.Len(t, c.seen, 2)
	require.False(t, c.CheckAndMark("a"), "oldest key was evicted")
}

func TestSeenCache_ConcurrentSameKey(t *testing.T) {
	c := newSeenCache(time.Hour, 100)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("wamid.same") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), fresh.Load())
}

func TestSeenCache_Forget(t *testing.T) {
	c := newSeenCache(time.Minute, 10)

	require.False(t, c.CheckAndMark("wamid.1"))
	c.Forget("wamid.1")
	c.Forget("wamid.unknown")
	require.False(t, c.CheckAndMark("wamid.1"))
	require.True(t, c.CheckAndMark("wamid.1"))
	require.Equal(t, 1, c.order.Len())
}
