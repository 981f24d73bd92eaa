package ratelimiting

import (
	"context"
	"slices"
	"sync"
	"time"
)

// RequestLimiter allows at most `limit` operations to finish within any `window`,
// and at most `limit` operations to run concurrently.
type RequestLimiter interface {
	// Run operation once the limit allows it. Returns false without running operation if
	// ctx is done first, or if ctx's deadline can't fit the wait plus maxOperationTime.
	Limit(ctx context.Context, maxOperationTime time.Duration, operation func(ctx context.Context)) bool
}

type windowLimitRequestLimiter struct {
	window    time.Duration
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	slots chan struct{}

	mutex sync.Mutex
	// Completion times of the last `limit` operations, sorted ascending
	finishedAt []time.Time
}

func NewWindowLimitRequestLimiter(
	limit int,
	window time.Duration,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) *windowLimitRequestLimiter {
	slots := make(chan struct{}, limit)
	finishedAt := make([]time.Time, limit)
	// Pretend every slot finished a full window ago, so the first requests don't wait
	longAgo := nowFunc().Add(-window)
	for i := range limit {
		slots <- struct{}{}
		finishedAt[i] = longAgo
	}

	return &windowLimitRequestLimiter{
		window:     window,
		nowFunc:    nowFunc,
		afterFunc:  afterFunc,
		slots:      slots,
		finishedAt: finishedAt,
	}
}

func (l *windowLimitRequestLimiter) Limit(ctx context.Context, maxOperationTime time.Duration, operation func(ctx context.Context)) bool {
	select {
	case <-l.slots:
		defer func() {
			l.slots <- struct{}{}
		}()
	case <-ctx.Done():
		return false
	}

	oldest, ok := l.popOldest(ctx, maxOperationTime)
	if !ok {
		return false
	}
	// Reinsert the popped timestamp unless the operation runs
	finished := oldest
	defer func() {
		l.pushFinished(finished)
	}()

	if wait := l.waitFor(oldest); wait > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-l.afterFunc(wait):
		}
	}

	operation(ctx)

	finished = l.nowFunc()
	return true
}

func (l *windowLimitRequestLimiter) waitFor(finishedAt time.Time) time.Duration {
	return l.window - l.nowFunc().Sub(finishedAt)
}

// Remove the oldest finish time if the caller can afford to wait for it
func (l *windowLimitRequestLimiter) popOldest(ctx context.Context, maxOperationTime time.Duration) (time.Time, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	oldest := l.finishedAt[0]

	if deadline, ok := ctx.Deadline(); ok {
		wait := max(l.waitFor(oldest), 0)
		if wait+maxOperationTime > deadline.Sub(l.nowFunc()) {
			return time.Time{}, false
		}
	}

	l.finishedAt = l.finishedAt[1:]
	return oldest, true
}

func (l *windowLimitRequestLimiter) pushFinished(t time.Time) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	i, _ := slices.BinarySearchFunc(l.finishedAt, t, func(a, b time.Time) int {
		return a.Compare(b)
	})
	l.finishedAt = slices.Insert(l.finishedAt, i, t)
}
