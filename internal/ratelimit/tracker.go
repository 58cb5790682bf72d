// Package ratelimit enforces the platform's two independent quotas: one
// search call per poll interval and a fixed number of posts per 24-hour
// window. Counters are persisted before the guarded action is attempted, so
// a crash between acquire and action can only waste quota, never exceed it.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind identifies a quota.
type Kind string

const (
	KindSearch Kind = "search"
	KindPost   Kind = "post"
)

// StateStore persists per-kind window counters.
type StateStore interface {
	GetRateLimit(kind string) (windowStart time.Time, count int, err error)
	SetRateLimit(kind string, windowStart time.Time, count int) error
}

type window struct {
	limit    int
	duration time.Duration
}

// Tracker is a fixed-window counter per quota kind backed by durable state.
type Tracker struct {
	mu     sync.Mutex
	store  StateStore
	limits map[Kind]window
	now    func() time.Time
	logger *zap.Logger
}

// NewTracker creates a tracker for the engine's two quotas.
func NewTracker(store StateStore, searchInterval time.Duration, dailyPostLimit int, logger *zap.Logger) *Tracker {
	return &Tracker{
		store: store,
		limits: map[Kind]window{
			KindSearch: {limit: 1, duration: searchInterval},
			KindPost:   {limit: dailyPostLimit, duration: 24 * time.Hour},
		},
		now:    time.Now,
		logger: logger,
	}
}

// SetClock overrides the time source. Test hook.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// TryAcquire attempts to take one unit of quota. On success the counter is
// incremented and persisted before returning. On denial it reports how long
// until capacity is next available. Quota is never borrowed from the future.
func (t *Tracker) TryAcquire(kind Kind) (bool, time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.limits[kind]
	if !ok {
		return false, 0, fmt.Errorf("unknown quota kind %q", kind)
	}

	windowStart, count, err := t.store.GetRateLimit(string(kind))
	if err != nil {
		return false, 0, err
	}

	now := t.now()
	if windowStart.IsZero() || !now.Before(windowStart.Add(w.duration)) {
		windowStart = now
		count = 0
	}

	if count >= w.limit {
		retryAfter := windowStart.Add(w.duration).Sub(now)
		return false, retryAfter, nil
	}

	if err := t.store.SetRateLimit(string(kind), windowStart, count+1); err != nil {
		return false, 0, err
	}

	t.logger.Debug("Quota acquired",
		zap.String("kind", string(kind)),
		zap.Int("used", count+1),
		zap.Int("limit", w.limit))

	return true, 0, nil
}

// Remaining reports unused quota in the current window.
func (t *Tracker) Remaining(kind Kind) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.limits[kind]
	if !ok {
		return 0, fmt.Errorf("unknown quota kind %q", kind)
	}

	windowStart, count, err := t.store.GetRateLimit(string(kind))
	if err != nil {
		return 0, err
	}

	if windowStart.IsZero() || !t.now().Before(windowStart.Add(w.duration)) {
		return w.limit, nil
	}

	remaining := w.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// NextAvailable reports the earliest time a call of this kind will be
// permitted. Returns the current time when capacity exists now.
func (t *Tracker) NextAvailable(kind Kind) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.limits[kind]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown quota kind %q", kind)
	}

	windowStart, count, err := t.store.GetRateLimit(string(kind))
	if err != nil {
		return time.Time{}, err
	}

	now := t.now()
	if windowStart.IsZero() || !now.Before(windowStart.Add(w.duration)) || count < w.limit {
		return now, nil
	}
	return windowStart.Add(w.duration), nil
}

// LastAcquired reports when the current window opened, i.e. the time of the
// most recent acquire for single-shot windows like search. ok is false when
// the kind has never acquired.
func (t *Tracker) LastAcquired(kind Kind) (time.Time, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	windowStart, count, err := t.store.GetRateLimit(string(kind))
	if err != nil {
		return time.Time{}, false, err
	}
	if windowStart.IsZero() || count == 0 {
		return time.Time{}, false, nil
	}
	return windowStart, true, nil
}
