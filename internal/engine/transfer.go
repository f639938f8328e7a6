package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lifesync/lifesync/internal/export"
	"github.com/lifesync/lifesync/internal/migrate"
)

// Export writes every cached record to w.
func (e *Engine) Export(w io.Writer, format export.Format) error {
	doc := export.NewDocument(e.cache.All(), e.config.UserID, e.config.DeviceID, e.config.Platform, e.config.Clock())
	if err := export.Write(w, format, doc); err != nil {
		return fmt.Errorf("failed to export %s: %w", format, err)
	}
	return nil
}

// Import reads a JSON export and replays it through the local write path.
// Each record keeps its id, version and checksum; the cache's version guard
// decides whether it lands, and records that land are queued for delivery.
// It returns how many records were stored.
func (e *Engine) Import(ctx context.Context, r io.Reader) (int, error) {
	doc, err := export.Read(r)
	if err != nil {
		return 0, fmt.Errorf("failed to import: %w", err)
	}
	if e.isDestroyed() {
		return 0, ErrDestroyed
	}

	e.writeMu.Lock()
	stored := 0
	for _, it := range doc.Items {
		before, had := e.cache.Get(it.ID)
		e.reconcile(ctx, it, fromLocal)
		after, ok := e.cache.Get(it.ID)
		if ok && (!had || before.Version != after.Version || before.Checksum != after.Checksum) {
			stored++
		}
	}
	e.writeMu.Unlock()

	e.logger.Printf("Imported %d of %d records", stored, len(doc.Items))
	if e.isOnline() {
		e.kickFlush()
	}
	return stored, nil
}

// Migrate moves every cached record to schema version to. Records with no
// schema tag are taken to be at defaultFrom. Each migrated record is written
// as a new version through SyncData. Records that fail to migrate are left
// as they are and reported in the returned error.
func (e *Engine) Migrate(ctx context.Context, m *migrate.Manager, defaultFrom, to string) (int, error) {
	var (
		migrated int
		errs     []error
	)
	for _, it := range e.cache.All() {
		out, err := m.MigrateItem(it, defaultFrom, to)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if out.Checksum == it.Checksum {
			continue
		}
		if _, err := e.SyncData(ctx, out.Type, out.ID, out.Payload); err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", out.ID, err))
			continue
		}
		migrated++
	}
	if len(errs) > 0 {
		e.logger.Printf("Migration to %s: %d records migrated, %d failed", to, migrated, len(errs))
	}
	return migrated, errors.Join(errs...)
}
