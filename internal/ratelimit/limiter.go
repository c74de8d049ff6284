// Package ratelimit implements the gateway's fixed-window request limiter.
//
// Each client key gets a counter that resets once its window has elapsed.
// The limiter is approximate: a client can be admitted up to twice the quota
// across a window boundary. All state sits behind one mutex, so concurrent
// Admit calls never lose an increment.
package ratelimit

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Decision is the result of an Admit call.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until the current window ends. Zero when allowed.
	RetryAfter time.Duration
	Limit      int
	Remaining  int
	ResetAt    time.Time
}

type window struct {
	key   string
	start time.Time
	end   time.Time
	count int
	elem  *list.Element
}

// FixedWindow counts requests per key in fixed windows.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*window
	// order holds windows by start time, oldest at the front. All windows
	// share one length, so the front is also the first to expire.
	order *list.List

	limit   int
	length  time.Duration
	maxKeys int
	now     func() time.Time
	onSweep func(removed int)
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithMaxKeys caps the number of tracked keys. Zero means unbounded.
func WithMaxKeys(n int) Option {
	return func(l *FixedWindow) { l.maxKeys = n }
}

// WithSweepHook registers fn to run after every Sweep with the number of
// windows removed. fn runs with the limiter locked and must not call back
// into it.
func WithSweepHook(fn func(removed int)) Option {
	return func(l *FixedWindow) { l.onSweep = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindow) { l.now = now }
}

// NewFixedWindow returns a limiter admitting limit requests per key per window.
func NewFixedWindow(limit int, length time.Duration, opts ...Option) *FixedWindow {
	l := &FixedWindow{
		windows: make(map[string]*window),
		order:   list.New(),
		limit:   limit,
		length:  length,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit records a request for key and reports whether it is within quota.
// Rejected requests still count against the window.
func (l *FixedWindow) Admit(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	switch {
	case !ok:
		l.makeRoom()
		w = &window{key: key, start: now, end: now.Add(l.length)}
		w.elem = l.order.PushBack(w)
		l.windows[key] = w
	case !now.Before(w.end):
		w.start, w.end, w.count = now, now.Add(l.length), 0
		l.order.MoveToBack(w.elem)
	}
	w.count++

	d := Decision{
		Allowed:   w.count <= l.limit,
		Limit:     l.limit,
		Remaining: max(l.limit-w.count, 0),
		ResetAt:   w.end,
	}
	if !d.Allowed {
		d.RetryAfter = w.end.Sub(now)
	}
	return d
}

// makeRoom drops the oldest window when the table is at maxKeys. Expired
// windows sit at the front, so they are evicted before live ones. The caller
// holds l.mu.
func (l *FixedWindow) makeRoom() {
	if l.maxKeys <= 0 || len(l.windows) < l.maxKeys {
		return
	}
	if front := l.order.Front(); front != nil {
		l.remove(front.Value.(*window))
	}
}

func (l *FixedWindow) remove(w *window) {
	l.order.Remove(w.elem)
	delete(l.windows, w.key)
}

// Sweep deletes every expired window and returns how many were removed.
func (l *FixedWindow) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for front := l.order.Front(); front != nil; front = l.order.Front() {
		w := front.Value.(*window)
		if now.Before(w.end) {
			break
		}
		l.remove(w)
		removed++
	}
	if l.onSweep != nil {
		l.onSweep(removed)
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Limit returns the per-window quota.
func (l *FixedWindow) Limit() int { return l.limit }

// Window returns the window length.
func (l *FixedWindow) Window() time.Duration { return l.length }

// Run sweeps expired windows every interval until ctx is done.
func (l *FixedWindow) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
