package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrStatsQueueFull is returned by AsyncStats.Record when the queue is full
// and the event was dropped.
var ErrStatsQueueFull = errors.New("rate limit stats queue full")

// AsyncStats queues events for a single background writer. Record never
// blocks; when the queue is full the event is dropped.
type AsyncStats struct {
	next    StatsRecorder
	events  chan Event
	timeout time.Duration
	onErr   func(error)
	dropped atomic.Int64
}

// NewAsyncStats wraps next with a queue of the given size. Each write is
// bounded by timeout. onErr, if set, receives write errors from Run.
func NewAsyncStats(next StatsRecorder, size int, timeout time.Duration, onErr func(error)) *AsyncStats {
	return &AsyncStats{
		next:    next,
		events:  make(chan Event, max(size, 1)),
		timeout: timeout,
		onErr:   onErr,
	}
}

// Record implements StatsRecorder by enqueueing ev.
func (a *AsyncStats) Record(_ context.Context, ev Event) error {
	select {
	case a.events <- ev:
		return nil
	default:
		a.dropped.Add(1)
		return ErrStatsQueueFull
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (a *AsyncStats) Dropped() int64 {
	return a.dropped.Load()
}

// Run writes queued events until ctx is done. Events still queued at that
// point are discarded.
func (a *AsyncStats) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			a.write(ctx, ev)
		}
	}
}

func (a *AsyncStats) write(ctx context.Context, ev Event) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if err := a.next.Record(ctx, ev); err != nil && a.onErr != nil {
		a.onErr(err)
	}
}
