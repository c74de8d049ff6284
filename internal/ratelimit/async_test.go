package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingStats holds every write until release is closed.
type blockingStats struct {
	mu      sync.Mutex
	got     []Event
	release chan struct{}
	err     error
}

func (b *blockingStats) Record(ctx context.Context, ev Event) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, ev)
	return b.err
}

func (b *blockingStats) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.got)
}

func TestAsyncStats_DropsWhenFull(t *testing.T) {
	next := &blockingStats{release: make(chan struct{})}
	a := NewAsyncStats(next, 2, time.Second, nil)

	// Nothing drains the queue, so only two events fit.
	require.NoError(t, a.Record(context.Background(), Event{Key: "1"}))
	require.NoError(t, a.Record(context.Background(), Event{Key: "2"}))
	err := a.Record(context.Background(), Event{Key: "3"})

	assert.ErrorIs(t, err, ErrStatsQueueFull)
	assert.Equal(t, int64(1), a.Dropped())
}

func TestAsyncStats_RunWritesQueuedEvents(t *testing.T) {
	next := &blockingStats{release: make(chan struct{})}
	close(next.release)
	a := NewAsyncStats(next, 8, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	for i := range 5 {
		require.NoError(t, a.Record(ctx, Event{Allowed: i%2 == 0}))
	}

	require.Eventually(t, func() bool { return next.count() == 5 }, time.Second, time.Millisecond)
}

func TestAsyncStats_SlowStoreDoesNotBlockRecord(t *testing.T) {
	next := &blockingStats{release: make(chan struct{})}
	defer close(next.release)
	a := NewAsyncStats(next, 4, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			_ = a.Record(ctx, Event{})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a stalled store")
	}
	assert.Positive(t, a.Dropped())
}

func TestAsyncStats_ReportsWriteErrors(t *testing.T) {
	next := &blockingStats{release: make(chan struct{}), err: errors.New("redis down")}
	close(next.release)

	errs := make(chan error, 1)
	a := NewAsyncStats(next, 1, time.Second, func(err error) { errs <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.NoError(t, a.Record(ctx, Event{}))
	select {
	case err := <-errs:
		assert.EqualError(t, err, "redis down")
	case <-time.After(time.Second):
		t.Fatal("write error not reported")
	}
}
