package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lifesync/lifesync/internal/engine"
	"github.com/lifesync/lifesync/internal/storage/sqlite"
)

// engineMode selects how much of the network a command uses.
type engineMode int

const (
	// modeLocal never touches the network.
	modeLocal engineMode = iota
	// modeOnce runs a single HTTP pull and push.
	modeOnce
	// modeLive keeps syncing: over the channel when one is configured,
	// otherwise on the sync interval.
	modeLive
)

// device is an opened local database plus the engine running on it.
type device struct {
	db     *sqlite.DB
	engine *engine.Engine
	mode   engineMode
}

// openDevice opens the device database and creates an engine on it.
// The engine is not started.
func openDevice(mode engineMode) (*device, error) {
	requireIdentity()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sqlite.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	ecfg := cfg.EngineConfig()
	ecfg.Storage = db
	ecfg.ConflictSink = db
	ecfg.Logger = logs.Logger("engine")
	switch mode {
	case modeLocal:
		ecfg.OfflineMode = true
	case modeOnce:
		ecfg.ChannelURL = ""
		ecfg.SyncInterval = 0
	}

	e, err := engine.New(ecfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &device{db: db, engine: e, mode: mode}, nil
}

// start starts the engine. In modeOnce it also waits for the first pull
// from the server to finish or fail.
func (d *device) start(ctx context.Context, timeout time.Duration) error {
	done := make(chan error, 1)
	report := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	unsubDevices := d.engine.Subscribe(engine.EventDevicesUpdated, func(engine.Event) { report(nil) })
	unsubErr := d.engine.Subscribe(engine.EventSyncError, func(ev engine.Event) { report(ev.Err) })
	defer unsubDevices()
	defer unsubErr()

	if err := d.engine.Start(ctx); err != nil {
		return err
	}
	if d.mode != modeOnce || cfg.OfflineMode {
		return nil
	}

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for the sync server after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the engine. Whatever is still queued is pushed by the next
// online run after its initial sync.
func (d *device) close() {
	d.engine.Destroy()
	_ = d.db.Close()
}
