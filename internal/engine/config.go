package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/lifesync/lifesync/internal/conflict"
	"github.com/lifesync/lifesync/internal/queue"
	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/storage"
	"github.com/lifesync/lifesync/internal/transport"
)

// ConflictSink receives pairs the resolver could not settle.
// *sqlite.DB satisfies it.
type ConflictSink interface {
	RecordConflict(ctx context.Context, local, remote record.SyncItem) (int64, error)
}

// KeyReceiver is implemented by storage collaborators that encrypt at rest.
// The engine hands them Config.EncryptionKey and never uses the key itself.
type KeyReceiver interface {
	SetEncryptionKey(key string)
}

// Config holds configuration for a sync engine. It is copied by New and
// never mutated afterwards.
type Config struct {
	// Identity of this device. All three are required.
	Platform record.Platform
	UserID   string
	DeviceID string

	// APIBase is the base URL of the batch sync API (POST /sync,
	// GET /sync/initial). Required unless OfflineMode is set.
	APIBase string

	// ChannelURL is the ws:// address of the push channel. When empty the
	// engine runs on batch sync alone.
	ChannelURL string

	// SyncInterval is how often the queue is flushed without a trigger.
	// Zero disables periodic flushes.
	SyncInterval time.Duration

	// OfflineMode keeps every write local. Nothing is dialed or pushed.
	OfflineMode bool

	// EncryptionKey is passed to Storage if it implements KeyReceiver.
	EncryptionKey string

	// ReconnectDelay is the constant wait before redialing the channel.
	ReconnectDelay time.Duration

	// Backoff schedules retries of failed batch pushes.
	Backoff queue.Backoff

	// BatchSize is the largest batch pushed at once (at most transport.MaxBatch).
	BatchSize int

	// ErrorLogSize bounds the error log reported by Status.
	ErrorLogSize int

	// Logger for engine activity
	Logger *log.Logger

	// Storage persists the cache. Defaults to an in-memory store.
	Storage storage.Storage

	// Resolver settles conflicting versions. Defaults to conflict.NewResolver().
	Resolver *conflict.Resolver

	// HTTPClient is used for batch requests.
	HTTPClient *http.Client

	// ConflictSink, when set, records every unresolved conflict.
	ConflictSink ConflictSink

	// Clock stamps local mutations. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults. Identity and addresses still
// need to be filled in.
func DefaultConfig() *Config {
	return &Config{
		Platform:       record.PlatformServer,
		SyncInterval:   30 * time.Second,
		ReconnectDelay: 5 * time.Second,
		Backoff:        queue.DefaultBackoff(),
		BatchSize:      transport.MaxBatch,
		ErrorLogSize:   50,
		Logger:         log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// validate fills defaults and checks required fields.
func (c *Config) validate() error {
	defaults := DefaultConfig()

	if c.UserID == "" {
		return fmt.Errorf("%w: user id cannot be empty", ErrInvalidConfig)
	}
	if c.DeviceID == "" {
		return fmt.Errorf("%w: device id cannot be empty", ErrInvalidConfig)
	}
	if c.Platform == "" {
		c.Platform = defaults.Platform
	}
	if c.APIBase == "" && !c.OfflineMode {
		return fmt.Errorf("%w: api base cannot be empty unless offline", ErrInvalidConfig)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: negative sync interval", ErrInvalidConfig)
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.BatchSize < 0 || c.BatchSize > transport.MaxBatch {
		return fmt.Errorf("%w: batch size must be between 1 and %d", ErrInvalidConfig, transport.MaxBatch)
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaults.ReconnectDelay
	}
	if c.Backoff.Base <= 0 || c.Backoff.Max <= 0 {
		c.Backoff = defaults.Backoff
	}
	if c.ErrorLogSize <= 0 {
		c.ErrorLogSize = defaults.ErrorLogSize
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
	if c.Storage == nil {
		c.Storage = storage.NewMemory()
	}
	if c.Resolver == nil {
		c.Resolver = conflict.NewResolver()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

func (c *Config) identity() transport.Identity {
	return transport.Identity{UserID: c.UserID, DeviceID: c.DeviceID, Platform: c.Platform}
}
