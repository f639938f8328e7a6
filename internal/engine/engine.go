// Package engine is the sync facade: the one entry point an application
// uses to write records and keep them in sync across devices.
//
// The engine composes the cache, the outbound queue, the conflict resolver,
// the device registry and both transport paths:
//  1. SyncData writes to the cache, queues the record and kicks a flush.
//  2. A single flusher goroutine pushes batches and reconciles whatever the
//     server sends back.
//  3. Channel messages and the initial pull go through the same
//     reconciliation path as local writes.
//
// All network work happens in the background. Only ForceSync blocks.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lifesync/lifesync/internal/cache"
	"github.com/lifesync/lifesync/internal/devices"
	"github.com/lifesync/lifesync/internal/queue"
	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/transport"
)

// ErrorEntry is one line of the bounded error log.
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
}

// SyncStatus is a point-in-time view of the engine. It is rebuilt on every
// call and never persisted.
type SyncStatus struct {
	Online   bool                `json:"online"`
	Syncing  bool                `json:"syncing"`
	LastSync time.Time           `json:"lastSync"`
	Pending  int                 `json:"pending"`
	Errors   []ErrorEntry        `json:"errors"`
	Devices  []record.DeviceInfo `json:"devices"`
}

// Engine syncs one device's records. Create it with New.
type Engine struct {
	config *Config
	logger *log.Logger

	cache   *cache.Cache
	queue   *queue.Queue
	devices *devices.Registry
	client  *transport.Client
	channel *transport.Channel
	events  *bus

	// writeMu makes version assignment and the cache write of a local
	// mutation atomic.
	writeMu sync.Mutex

	// flushMu serializes batch pushes.
	flushMu sync.Mutex
	kick    chan struct{}

	mu         sync.Mutex
	started    bool
	destroyed  bool
	online     bool
	syncing    bool
	lastSync   time.Time
	retries    int
	retryTimer *time.Timer
	errorLog   []ErrorEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Call Start to hydrate the cache and go online.
func New(config *Config) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
	}
	cfg := *config
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if kr, ok := cfg.Storage.(KeyReceiver); ok && cfg.EncryptionKey != "" {
		kr.SetEncryptionKey(cfg.EncryptionKey)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:  &cfg,
		logger:  cfg.Logger,
		cache:   cache.New(cfg.Storage, cfg.Logger),
		queue:   queue.New(),
		devices: devices.NewRegistry(),
		events:  newBus(cfg.Logger),
		kick:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	if !cfg.OfflineMode {
		e.client = transport.NewClient(cfg.APIBase, cfg.identity(), cfg.HTTPClient)
	}
	if !cfg.OfflineMode && cfg.ChannelURL != "" {
		ch, err := transport.NewChannel(&transport.ChannelConfig{
			URL:            cfg.ChannelURL,
			Identity:       cfg.identity(),
			ReconnectDelay: cfg.ReconnectDelay,
			Logger:         cfg.Logger,
		}, e.handleMessage, e.handleChannelState)
		if err != nil {
			cancel()
			e.events.close()
			return nil, fmt.Errorf("failed to create channel: %w", err)
		}
		e.channel = ch
	}

	return e, nil
}

// Start hydrates the cache from storage and, unless offline, starts the
// flusher, the periodic timer and the channel. It returns once those are
// running; connecting and the initial pull happen in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return ErrDestroyed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	n, err := e.cache.Load(ctx)
	if err != nil {
		e.logger.Printf("Warning: failed to load cached records: %v", err)
	} else {
		e.logger.Printf("Loaded %d records from storage", n)
	}

	if e.config.OfflineMode {
		e.logger.Println("Offline mode: network sync disabled")
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrDestroyed
	}

	e.wg.Add(1)
	go e.runFlusher()

	if e.channel != nil {
		e.channel.Start()
	} else {
		e.setOnlineLocked(true, nil)
		e.goLocked(e.initialSync)
	}
	return nil
}

// SyncData records a local mutation of the record id. An empty id creates
// a new record. The returned item carries the assigned version.
//
// The write lands in the cache and the outbound queue before SyncData
// returns; pushing it happens in the background. After Destroy the item is
// built and returned but nothing is written or sent.
func (e *Engine) SyncData(ctx context.Context, typ record.ItemType, id string, payload map[string]any) (record.SyncItem, error) {
	if !typ.IsValid() {
		return record.SyncItem{}, fmt.Errorf("unknown item type %q", typ)
	}
	if id == "" {
		id = record.NewID()
	}
	payload, err := record.CanonicalPayload(payload)
	if err != nil {
		return record.SyncItem{}, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	version := int64(1)
	if cur, ok := e.cache.Get(id); ok {
		version = cur.Version + 1
	}
	item := record.SyncItem{
		ID:        id,
		Type:      typ,
		Payload:   payload,
		Timestamp: e.config.Clock().UTC(),
		Version:   version,
		Platform:  e.config.Platform,
		DeviceID:  e.config.DeviceID,
	}.Normalize()

	if e.isDestroyed() {
		return item, nil
	}

	e.reconcile(ctx, item, fromLocal)
	if e.isOnline() {
		e.kickFlush()
	}
	return item, nil
}

// Delete writes a deletion marker for id as a new version.
func (e *Engine) Delete(ctx context.Context, id string) (record.SyncItem, error) {
	cur, ok := e.cache.Get(id)
	if !ok {
		return record.SyncItem{}, fmt.Errorf("record %s not found", id)
	}
	return e.SyncData(ctx, cur.Type, id, map[string]any{record.DeletedKey: true})
}

// Get returns the cached record for id.
func (e *Engine) Get(id string) (record.SyncItem, bool) {
	return e.cache.Get(id)
}

// Records returns every cached record ordered by id.
func (e *Engine) Records() []record.SyncItem {
	return e.cache.All()
}

// Status returns the current sync status.
func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	st := SyncStatus{
		Online:   e.online,
		Syncing:  e.syncing,
		LastSync: e.lastSync,
		Errors:   append([]ErrorEntry(nil), e.errorLog...),
	}
	e.mu.Unlock()

	st.Pending = e.queue.Len()
	st.Devices = e.devices.Snapshot()
	return st
}

// Subscribe registers fn for one kind of event. The returned function
// removes the subscription.
func (e *Engine) Subscribe(kind EventKind, fn Observer) func() {
	return e.events.subscribe(subscription{kind: kind, fn: fn})
}

// SubscribeAll registers fn for every event.
func (e *Engine) SubscribeAll(fn Observer) func() {
	return e.events.subscribe(subscription{all: true, fn: fn})
}

// Destroy closes the channel, stops every timer and detaches all observers.
// It is idempotent and safe to call from an observer.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.online = false
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
	e.mu.Unlock()

	e.events.close()
	e.cancel()
	if e.channel != nil {
		_ = e.channel.Close()
	}
	e.wg.Wait()
	e.logger.Println("Sync engine destroyed")
}

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

func (e *Engine) isOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online && !e.destroyed
}

// setOnlineLocked records an online transition and emits it. Caller holds mu.
func (e *Engine) setOnlineLocked(online bool, cause error) {
	if e.online == online {
		return
	}
	e.online = online
	if online {
		e.events.emit(Event{Kind: EventConnected})
	} else {
		e.events.emit(Event{Kind: EventDisconnected, Err: cause})
	}
}

// goLocked runs fn in a goroutine tracked by Destroy. Caller holds mu.
func (e *Engine) goLocked(fn func()) {
	if e.destroyed {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// recordError appends to the bounded error log.
func (e *Engine) recordError(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorLog = append(e.errorLog, ErrorEntry{Time: time.Now().UTC(), Op: op, Message: err.Error()})
	if over := len(e.errorLog) - e.config.ErrorLogSize; over > 0 {
		e.errorLog = append([]ErrorEntry(nil), e.errorLog[over:]...)
	}
}
