package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/lifesync/lifesync/internal/cache"
	"github.com/lifesync/lifesync/internal/conflict"
	"github.com/lifesync/lifesync/internal/metrics"
	"github.com/lifesync/lifesync/internal/record"
)

// source tells reconcile where a record came from.
type source int

const (
	fromLocal source = iota
	fromServer
)

// reconcileRemote runs server records through reconciliation.
func (e *Engine) reconcileRemote(ctx context.Context, items []record.SyncItem) {
	if len(items) == 0 {
		return
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	for _, it := range items {
		e.reconcile(ctx, it, fromServer)
	}
}

// reconcile merges one record into the cache. Caller holds writeMu.
//
// Local records that land are queued for delivery. Server records that land
// replace anything still queued for the same id at or below their version;
// each dropped edit is reported as EventEditSuperseded.
// A server record older than the cache means the server is behind, so our
// copy is queued again. Same version with different content goes to the
// resolver.
func (e *Engine) reconcile(ctx context.Context, item record.SyncItem, src source) {
	if err := item.Validate(); err != nil {
		e.logger.Printf("Warning: ignoring malformed record: %v", err)
		e.recordError("reconcile", err)
		e.events.emit(Event{Kind: EventSyncError, Err: fmt.Errorf("malformed record: %w", err)})
		return
	}
	item = item.Normalize()

	switch res := e.cache.Put(ctx, item); res {
	case cache.Inserted, cache.Updated:
		if src == fromLocal {
			e.enqueue(item)
			return
		}
		if dropped := e.queue.DropSuperseded(item); len(dropped) > 0 {
			for _, lost := range dropped {
				e.logger.Printf("Queued v%d of %s superseded by server v%d", lost.Version, lost.ID, item.Version)
				e.events.emit(Event{Kind: EventEditSuperseded, Local: ptr(lost), Remote: ptr(item)})
			}
			e.pendingChanged()
		}
		e.events.emit(Event{Kind: EventRecordUpdated, Item: ptr(item)})

	case cache.Unchanged:

	case cache.Stale:
		if src == fromServer {
			if cur, ok := e.cache.Get(item.ID); ok {
				e.enqueue(cur)
			}
		}

	case cache.Divergent:
		cur, ok := e.cache.Get(item.ID)
		if !ok {
			return
		}
		e.resolve(ctx, cur, item)
	}
}

// resolve runs the conflict policy on a local/remote pair and applies the
// outcome. Caller holds writeMu.
func (e *Engine) resolve(ctx context.Context, local, remote record.SyncItem) {
	res, err := e.config.Resolver.Resolve(local, remote)
	if err != nil {
		e.logger.Printf("Conflict resolution failed for %s: %v", local.ID, err)
		e.recordError("conflict", err)
		e.events.emit(Event{Kind: EventConflictError, Err: err, Local: ptr(local), Remote: ptr(remote)})
		return
	}
	metrics.Engine.ConflictResolved(e.config.DeviceID, string(res.Strategy))

	if res.Unresolved() {
		e.logger.Printf("Conflict on %s left unresolved (kept local v%d)", local.ID, local.Version)
		if e.config.ConflictSink != nil {
			if _, err := e.config.ConflictSink.RecordConflict(ctx, local, remote); err != nil {
				e.logger.Printf("Warning: failed to record conflict for %s: %v", local.ID, err)
			}
		}
		e.events.emit(Event{Kind: EventConflictUnresolved, Local: ptr(local), Remote: ptr(remote), Strategy: res.Strategy})
		return
	}

	item := e.apply(ctx, local, remote, res)
	e.events.emit(Event{
		Kind:     EventConflictResolved,
		Item:     ptr(item),
		Local:    ptr(local),
		Remote:   ptr(remote),
		Strategy: res.Strategy,
	})
}

// apply writes a resolution. When the result is exactly what the server
// holds it is cached and nothing is sent. Otherwise it gets a version above
// every side that has been seen and is queued. Caller holds writeMu.
func (e *Engine) apply(ctx context.Context, local, remote record.SyncItem, res conflict.Resolution) record.SyncItem {
	item := res.Item.Normalize()

	if item.SameContent(remote) {
		if e.cache.Replace(ctx, item) && len(e.queue.DropSuperseded(item)) > 0 {
			e.pendingChanged()
		}
		return item
	}

	floor := max(local.Version, remote.Version)
	if cur, ok := e.cache.Get(item.ID); ok && cur.Version > floor {
		floor = cur.Version
	}
	if item.Version <= floor {
		item.Version = floor + 1
	}

	e.cache.Replace(ctx, item)
	e.queue.DropSuperseded(item)
	e.enqueue(item)
	return item
}

// resolveMessage handles a server conflict message.
func (e *Engine) resolveMessage(ctx context.Context, local, remote *record.SyncItem) {
	if local == nil || remote == nil {
		err := errors.New("conflict message is missing a side")
		e.recordError("conflict", err)
		e.events.emit(Event{Kind: EventConflictError, Err: err, Local: local, Remote: remote})
		return
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.resolve(ctx, *local, *remote)
}

// requeueUnknown queues cached records the server did not return. The
// queue lives in memory, so records written before a restart reach the
// server this way.
func (e *Engine) requeueUnknown(server []record.SyncItem) {
	known := make(map[string]struct{}, len(server))
	for _, it := range server {
		known[it.ID] = struct{}{}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	n := 0
	for _, it := range e.cache.All() {
		if _, ok := known[it.ID]; ok {
			continue
		}
		if e.queue.Enqueue(it) {
			n++
		}
	}
	if n > 0 {
		e.logger.Printf("Queued %d records the server does not have", n)
		e.pendingChanged()
	}
}

func (e *Engine) enqueue(item record.SyncItem) {
	if e.queue.Enqueue(item) {
		e.pendingChanged()
	}
}

func (e *Engine) pendingChanged() {
	n := e.queue.Len()
	metrics.Engine.QueueLength(e.config.DeviceID, n)
	e.events.emit(Event{Kind: EventPendingChanges, Pending: n})
}

func ptr(it record.SyncItem) *record.SyncItem {
	return &it
}
