// Package queue holds records waiting to be pushed to the server.
//
// Order matters: records for the same id must reach the server in the order
// they were produced, so a batch that fails to send goes back to the front
// of the queue rather than the tail.
package queue

import (
	"sync"

	"github.com/lifesync/lifesync/internal/record"
)

// Queue is a FIFO of outbound records. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []record.SyncItem
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends item to the tail.
//
// Re-delivering a record that is already queued with the same id, version
// and checksum is a no-op. It reports whether the item was appended.
func (q *Queue) Enqueue(item record.SyncItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, queued := range q.items {
		if queued.SameContent(item) {
			return false
		}
	}
	q.items = append(q.items, item.Clone())
	return true
}

// DrainBatch removes and returns up to max items from the head.
// Items beyond max stay queued.
func (q *Queue) DrainBatch(max int) []record.SyncItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.items) == 0 {
		return nil
	}
	if max > len(q.items) {
		max = len(q.items)
	}

	batch := make([]record.SyncItem, max)
	copy(batch, q.items[:max])
	q.items = append([]record.SyncItem(nil), q.items[max:]...)
	return batch
}

// Prepend restores a failed batch to the head, ahead of anything queued
// since it was drained.
func (q *Queue) Prepend(batch []record.SyncItem) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	restored := make([]record.SyncItem, 0, len(batch)+len(q.items))
	restored = append(restored, batch...)
	restored = append(restored, q.items...)
	q.items = restored
}

// DropSuperseded removes queued records for winner.ID that winner replaces:
// any with a version at or below winner's that is not winner itself.
// It returns the removed records in queue order.
func (q *Queue) DropSuperseded(winner record.SyncItem) []record.SyncItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	var dropped []record.SyncItem
	for _, it := range q.items {
		if it.ID == winner.ID && it.Version <= winner.Version && !it.SameContent(winner) {
			dropped = append(dropped, it)
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return dropped
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued items in order.
func (q *Queue) Snapshot() []record.SyncItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]record.SyncItem, len(q.items))
	for i, it := range q.items {
		out[i] = it.Clone()
	}
	return out
}
