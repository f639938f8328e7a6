package engine

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lifesync/lifesync/internal/conflict"
	"github.com/lifesync/lifesync/internal/record"
)

// EventKind identifies an engine event. The set is closed.
type EventKind int

const (
	// EventConnected fires when the engine goes online.
	EventConnected EventKind = iota
	// EventDisconnected fires when the engine goes offline. Err carries the cause.
	EventDisconnected
	// EventSyncStarted fires when a flush begins pushing batches.
	EventSyncStarted
	// EventSyncCompleted fires when the queue was flushed. Pushed is the record count.
	EventSyncCompleted
	// EventSyncError fires when a push or initial sync fails. RetryIn is set
	// when a retry has been scheduled.
	EventSyncError
	// EventPendingChanges reports the queue length after it changed.
	EventPendingChanges
	// EventConflictResolved carries the pair and the accepted Item.
	EventConflictResolved
	// EventConflictUnresolved carries a pair the local record won by default.
	// Hosts can offer a manual merge and write the result with SyncData.
	EventConflictUnresolved
	// EventConflictError carries a pair the resolver rejected.
	EventConflictError
	// EventNotification forwards a server notification unmodified.
	EventNotification
	// EventDevicesUpdated carries the new device list.
	EventDevicesUpdated
	// EventRecordUpdated fires when a remote record replaced the cached one.
	EventRecordUpdated
	// EventEditSuperseded carries a queued local edit (Local) that was
	// dropped unsent because the server already holds a newer version
	// (Remote). Hosts can write Local's payload again with SyncData.
	EventEditSuperseded
)

var eventNames = [...]string{
	EventConnected:          "connected",
	EventDisconnected:       "disconnected",
	EventSyncStarted:        "sync-started",
	EventSyncCompleted:      "sync-completed",
	EventSyncError:          "sync-error",
	EventPendingChanges:     "pending-changes",
	EventConflictResolved:   "conflict-resolved",
	EventConflictUnresolved: "conflict-unresolved",
	EventConflictError:      "conflict-error",
	EventNotification:       "notification",
	EventDevicesUpdated:     "devices-updated",
	EventRecordUpdated:      "record-updated",
	EventEditSuperseded:     "edit-superseded",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// Event is delivered to observers. Which fields are set depends on Kind.
type Event struct {
	Kind EventKind
	Time time.Time

	Err     error
	RetryIn time.Duration
	Pending int
	Pushed  int

	Item     *record.SyncItem
	Local    *record.SyncItem
	Remote   *record.SyncItem
	Strategy conflict.Strategy

	Devices      []record.DeviceInfo
	Notification json.RawMessage
}

// Observer handles events. Observers run on the engine's dispatch goroutine,
// one at a time, and may call back into the engine (including Destroy).
type Observer func(Event)

type subscription struct {
	all  bool
	kind EventKind
	fn   Observer
}

// bus dispatches events asynchronously so emitters never block on, or
// re-enter, observer code.
type bus struct {
	logger *log.Logger

	mu      sync.Mutex
	subs    map[int]subscription
	nextID  int
	pending []Event
	closed  bool

	signal chan struct{}
	done   chan struct{}
}

func newBus(logger *log.Logger) *bus {
	b := &bus{
		logger: logger,
		subs:   make(map[int]subscription),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *bus) subscribe(s subscription) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *bus) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, ev)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// close detaches every observer and stops dispatch. Queued events are dropped.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.subs = make(map[int]subscription)
	b.pending = nil
	close(b.done)
}

func (b *bus) run() {
	for {
		select {
		case <-b.done:
			return
		case <-b.signal:
		}

		for {
			b.mu.Lock()
			if b.closed || len(b.pending) == 0 {
				b.mu.Unlock()
				break
			}
			ev := b.pending[0]
			b.pending = b.pending[1:]
			targets := b.matching(ev.Kind)
			b.mu.Unlock()

			for _, fn := range targets {
				b.deliver(fn, ev)
			}
		}
	}
}

// matching returns observers for kind in subscription order. Caller holds mu.
func (b *bus) matching(kind EventKind) []Observer {
	ids := make([]int, 0, len(b.subs))
	for id, s := range b.subs {
		if s.all || s.kind == kind {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]Observer, len(ids))
	for i, id := range ids {
		out[i] = b.subs[id].fn
	}
	return out
}

func (b *bus) deliver(fn Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("Warning: observer panicked on %s event: %v", ev.Kind, r)
		}
	}()
	fn(ev)
}
