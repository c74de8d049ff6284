package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAdmit_QuotaWithinWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(100, 15*time.Minute, WithClock(clock.Now))

	for i := 1; i <= 100; i++ {
		d := l.Admit("10.0.0.1")
		require.Truef(t, d.Allowed, "request %d should be admitted", i)
		assert.Equal(t, 100-i, d.Remaining)
		clock.Advance(time.Second)
	}

	d := l.Admit("10.0.0.1")
	assert.False(t, d.Allowed, "101st request should be rejected")
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 100, d.Limit)
	assert.Equal(t, 15*time.Minute-100*time.Second, d.RetryAfter)
}

func TestAdmit_ResetsAfterWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(2, time.Minute, WithClock(clock.Now))

	start := clock.Now()
	require.True(t, l.Admit("k").Allowed)
	require.True(t, l.Admit("k").Allowed)
	require.False(t, l.Admit("k").Allowed)

	// Still inside the window: rejected attempts keep counting.
	clock.Advance(59 * time.Second)
	require.False(t, l.Admit("k").Allowed)

	clock.Advance(time.Second)
	d := l.Admit("k")
	assert.True(t, d.Allowed, "first request after the window elapses is admitted")
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, start.Add(2*time.Minute), d.ResetAt)
}

func TestAdmit_KeysAreIndependent(t *testing.T) {
	l := NewFixedWindow(1, time.Minute)

	assert.True(t, l.Admit("a").Allowed)
	assert.False(t, l.Admit("a").Allowed)
	assert.True(t, l.Admit("b").Allowed)
}

func TestAdmit_ConcurrentNeverExceedsQuota(t *testing.T) {
	const (
		quota   = 100
		workers = 50
		perWkr  = 20
	)
	l := NewFixedWindow(quota, time.Hour)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWkr {
				if l.Admit("shared").Allowed {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(quota), admitted.Load())
}

func TestSweep_RemovesExpired(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(10, time.Minute, WithClock(clock.Now))

	l.Admit("old")
	clock.Advance(30 * time.Second)
	l.Admit("new")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestMaxKeys_EvictsExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(10, time.Minute, WithClock(clock.Now), WithMaxKeys(2))

	l.Admit("a")
	clock.Advance(30 * time.Second)
	l.Admit("b")
	clock.Advance(31 * time.Second) // "a" expired, "b" still live

	l.Admit("c")
	assert.Equal(t, 2, l.Len())

	// "b" kept its count.
	for range 9 {
		l.Admit("b")
	}
	assert.False(t, l.Admit("b").Allowed)
}

func TestMaxKeys_EvictsOldestWhenFull(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(1, time.Hour, WithClock(clock.Now), WithMaxKeys(2))

	l.Admit("a")
	clock.Advance(time.Second)
	l.Admit("b")
	clock.Advance(time.Second)
	l.Admit("c") // evicts "a"

	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Admit("a").Allowed, "evicted key starts a fresh window")
	assert.False(t, l.Admit("c").Allowed)
}

func TestMaxKeys_InsertAtCapacityDoesNotSweep(t *testing.T) {
	const capacity = 1000
	clock := newFakeClock()
	sweeps := 0
	l := NewFixedWindow(5, time.Hour,
		WithClock(clock.Now),
		WithMaxKeys(capacity),
		WithSweepHook(func(int) { sweeps++ }),
	)

	for i := range capacity + 500 {
		l.Admit(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		clock.Advance(time.Millisecond)
	}

	assert.Zero(t, sweeps, "inserting at capacity must not sweep the table")
	assert.Equal(t, capacity, l.Len())

	// The newest keys survived with their counts intact.
	newest := fmt.Sprintf("10.0.%d.%d", (capacity+499)/256, (capacity+499)%256)
	d := l.Admit(newest)
	assert.Equal(t, 3, d.Remaining)
}

func TestMaxKeys_ResetWindowMovesToBack(t *testing.T) {
	clock := newFakeClock()
	l := NewFixedWindow(2, time.Minute, WithClock(clock.Now), WithMaxKeys(2))

	l.Admit("a")
	clock.Advance(10 * time.Second)
	l.Admit("b")
	clock.Advance(51 * time.Second) // "a" expired, "b" live until +70s

	require.Equal(t, 1, l.Admit("a").Remaining, "expired window restarts")
	l.Admit("c") // "b" is now the oldest window

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 0, l.Admit("a").Remaining, "a kept its restarted window")
	assert.Equal(t, 1, l.Admit("b").Remaining, "b was evicted and starts fresh")
}

func TestSweep_ReportsToHook(t *testing.T) {
	clock := newFakeClock()
	var got []int
	l := NewFixedWindow(1, time.Minute, WithClock(clock.Now), WithSweepHook(func(n int) { got = append(got, n) }))

	l.Admit("a")
	l.Admit("b")
	clock.Advance(time.Minute)
	l.Admit("c")

	assert.Equal(t, 2, l.Sweep())
	assert.Equal(t, 0, l.Sweep())
	assert.Equal(t, []int{2, 0}, got)
}

func TestRun_StopsOnCancel(t *testing.T) {
	l := NewFixedWindow(1, time.Millisecond)
	l.Admit("a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_NonPositiveIntervalReturns(t *testing.T) {
	l := NewFixedWindow(1, time.Minute)
	l.Run(context.Background(), 0)
}
