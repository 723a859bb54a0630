package throttle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestThrottle() (*Throttle, *clock) {
	c := &clock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	th := New(600*time.Second, 5)
	th.now = c.Now
	return th, c
}

func TestFiveFailuresBlockTheSixthAttempt(t *testing.T) {
	th, c := newTestThrottle()
	const ip = "10.0.0.1"

	for i := 0; i < 5; i++ {
		require.False(t, th.IsBlocked(ip), "attempt %d", i+1)
		th.RecordFailure(ip)
		c.Advance(10 * time.Second)
	}
	require.True(t, th.IsBlocked(ip))
	require.False(t, th.IsBlocked("10.0.0.2"))
}

func TestClearUnblocksImmediately(t *testing.T) {
	th, _ := newTestThrottle()
	const ip = "10.0.0.1"

	for i := 0; i < 5; i++ {
		th.RecordFailure(ip)
	}
	require.True(t, th.IsBlocked(ip))

	th.Clear(ip)
	require.False(t, th.IsBlocked(ip))
}

func TestFailuresOlderThanWindowDoNotCount(t *testing.T) {
	th, c := newTestThrottle()
	const ip = "10.0.0.1"

	for i := 0; i < 4; i++ {
		th.RecordFailure(ip)
	}
	c.Advance(601 * time.Second)
	th.RecordFailure(ip)
	require.False(t, th.IsBlocked(ip))

	for i := 0; i < 4; i++ {
		th.RecordFailure(ip)
	}
	require.True(t, th.IsBlocked(ip))

	c.Advance(601 * time.Second)
	require.False(t, th.IsBlocked(ip))
	require.Empty(t, th.failures)
}

func TestFailureExactlyAtWindowEdgeStillCounts(t *testing.T) {
	th, c := newTestThrottle()
	const ip = "10.0.0.1"

	for i := 0; i < 5; i++ {
		th.RecordFailure(ip)
	}
	c.Advance(600 * time.Second)
	require.True(t, th.IsBlocked(ip))
}

func TestQueueIsBounded(t *testing.T) {
	th, _ := newTestThrottle()
	for i := 0; i < 50; i++ {
		th.RecordFailure("k")
	}
	require.Len(t, th.failures["k"], 5)
}

func TestConcurrentAccess(t *testing.T) {
	th := New(time.Minute, 1000)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				th.RecordFailure("shared")
				th.IsBlocked("shared")
			}
		}()
	}
	wg.Wait()
	require.True(t, th.IsBlocked("shared"))
}
