package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/stowaway/internal/connectivity"
)

// Run drives automatic flushes until ctx is cancelled.
//
// A flush is attempted when the monitor goes from offline to online, when a
// mutation is queued while online, and when a backoff delay expires, in each
// case only if entries are pending. Run also flushes once at start if the
// monitor is already online, picking up entries left by an earlier process.
//
// Always returns ctx.Err().
func (e *Engine[T]) Run(ctx context.Context) error {
	unsubscribe := e.monitor.Subscribe(func(prev, next connectivity.State) {
		e.metrics.SetOnline(next.Online)
		if next.Online && !prev.Online {
			e.wake.fire()
		}
	})
	defer unsubscribe()

	e.metrics.SetOnline(e.monitor.Online())
	slog.Info("sync engine starting", "write_policy", string(e.policy))

	e.wake.fire()

	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			slog.Info("sync engine stopped")
			return ctx.Err()
		case <-e.wake.wait():
		case <-retry:
			retry = nil
		}

		if wait := e.autoFlush(ctx); wait > 0 {
			retry = time.After(wait)
		}
	}
}

// autoFlush flushes if online with pending entries and no backoff in force.
// Returns how long to wait before trying again, or 0 to wait for the next
// trigger.
func (e *Engine[T]) autoFlush(ctx context.Context) time.Duration {
	if !e.monitor.Online() {
		return 0
	}

	n, err := e.store.PendingCount(ctx)
	if err != nil {
		slog.Error("pending count failed; automatic flush skipped", "error", err)
		return e.retry.Backoff(1)
	}
	if n == 0 {
		return 0
	}

	if wait := e.backoffRemaining(); wait > 0 {
		slog.Debug("automatic flush deferred by backoff", "pending", n, "retry_in", wait)
		return wait
	}

	res, err := e.Flush(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("automatic flush failed", "error", err)
		}
		return e.retry.Backoff(1)
	}
	if res.Err != nil {
		// The entries are still pending even if the delay already elapsed.
		return max(e.backoffRemaining(), time.Millisecond)
	}
	return 0
}
