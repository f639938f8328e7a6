package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lifesync/lifesync/internal/metrics"
)

// maxStalledRounds is how many consecutive rounds may leave the queue no
// shorter before a flush gives up and retries with backoff. A server that
// keeps answering with older records than ours would otherwise be pushed
// to forever.
const maxStalledRounds = 20

// ForceSync pushes the whole queue and waits for the result. It returns
// nil only once the queue is empty.
func (e *Engine) ForceSync(ctx context.Context) error {
	if e.isDestroyed() {
		return ErrDestroyed
	}
	if e.config.OfflineMode {
		return ErrOffline
	}
	return e.flush(ctx)
}

// kickFlush asks the flusher goroutine to run. It never blocks.
func (e *Engine) kickFlush() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// runFlusher is the only background pusher. It flushes on kicks, on
// retry timers and on the periodic interval. Without a channel nothing
// announces remote changes, so each tick also pulls the server state.
func (e *Engine) runFlusher() {
	defer e.wg.Done()

	var tick <-chan time.Time
	if e.config.SyncInterval > 0 {
		ticker := time.NewTicker(e.config.SyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.kick:
		case <-tick:
			if e.channel == nil {
				e.initialSync()
			}
		}
		_ = e.flush(e.ctx)
	}
}

// flush drains the queue in batches until it is empty. On the first failed
// batch the batch goes back to the head of the queue, a retry is scheduled
// with backoff and the error is returned. The same happens when the queue
// stops shrinking for maxStalledRounds rounds.
func (e *Engine) flush(ctx context.Context) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	if e.queue.Len() == 0 {
		return nil
	}

	e.setSyncing(true)
	defer e.setSyncing(false)
	e.events.emit(Event{Kind: EventSyncStarted, Pending: e.queue.Len()})

	pushed, stalled := 0, 0
	for {
		if e.isDestroyed() {
			return ErrDestroyed
		}
		before := e.queue.Len()
		batch := e.queue.DrainBatch(e.config.BatchSize)
		if len(batch) == 0 {
			break
		}

		returned, err := e.client.Push(ctx, batch)
		if err != nil {
			e.queue.Prepend(batch)
			metrics.Engine.BatchFailed(e.config.DeviceID)
			return e.flushFailed(ctx, fmt.Errorf("failed to push batch of %d: %w", len(batch), err))
		}
		metrics.Engine.BatchSent(e.config.DeviceID)
		pushed += len(batch)
		e.reconcileRemote(ctx, returned)

		if e.queue.Len() < before {
			stalled = 0
			continue
		}
		stalled++
		if stalled >= maxStalledRounds {
			return e.flushFailed(ctx, fmt.Errorf("%w: %d records still queued after %d rounds",
				ErrFlushStalled, e.queue.Len(), stalled))
		}
	}

	e.mu.Lock()
	e.lastSync = time.Now().UTC()
	e.retries = 0
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	if e.channel == nil {
		e.setOnlineLocked(true, nil)
	}
	e.mu.Unlock()

	e.logger.Printf("Pushed %d records", pushed)
	e.events.emit(Event{Kind: EventSyncCompleted, Pushed: pushed})
	e.pendingChanged()
	return nil
}

// flushFailed records a failed push and schedules the next attempt.
func (e *Engine) flushFailed(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) && e.isDestroyed() {
		return err
	}

	e.mu.Lock()
	delay := e.config.Backoff.Delay(e.retries)
	e.retries++
	if e.channel == nil {
		e.setOnlineLocked(false, err)
	}
	if !e.destroyed {
		if e.retryTimer != nil {
			e.retryTimer.Stop()
		}
		e.retryTimer = time.AfterFunc(delay, e.kickFlush)
	}
	e.mu.Unlock()

	e.logger.Printf("Sync failed: %v (retrying in %v)", err, delay)
	e.recordError("push", err)
	e.events.emit(Event{Kind: EventSyncError, Err: err, RetryIn: delay})
	e.pendingChanged()
	return err
}

func (e *Engine) setSyncing(v bool) {
	e.mu.Lock()
	e.syncing = v
	e.mu.Unlock()
}
