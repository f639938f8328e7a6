// Package sqlite provides on-device record storage backed by embedded SQLite.
//
// The database runs in embedded mode (ncruces/go-sqlite3, compiled to wasm)
// with WAL enabled so the CLI can inspect the cache while a sync daemon holds
// it open.
//
// Tables:
//   - records: latest known SyncItem per id
//   - conflicts: pairs the resolver could only settle by preferring the local
//     record, kept until a user resolves them by hand
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/lifesync/lifesync/internal/record"
)

// ErrConflictNotFound is returned when resolving a conflict id that isn't logged.
var ErrConflictNotFound = errors.New("conflict not found")

// DB wraps the SQLite connection and implements storage.Storage.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at path. The special path ":memory:"
// opens a private in-memory database.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	connStr := ":memory:"
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = fmt.Sprintf("file:%s", path)
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A single writer per device; one connection also keeps :memory: coherent.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn, path: path}

	if path != ":memory:" {
		if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Path returns the path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection, checkpointing the WAL first.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.path != ":memory:" {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,  -- JSON object
		timestamp TEXT NOT NULL,
		version INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		platform TEXT,
		device_id TEXT,
		stored_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id TEXT NOT NULL,
		local TEXT NOT NULL,   -- JSON SyncItem
		remote TEXT NOT NULL,  -- JSON SyncItem
		detected_at TEXT NOT NULL,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_records_type ON records(type);
	CREATE INDEX IF NOT EXISTS idx_conflicts_open ON conflicts(resolved_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// PutRecord inserts or replaces the stored record for item.ID.
func (db *DB) PutRecord(ctx context.Context, item record.SyncItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
	INSERT INTO records (
		id, type, payload, timestamp, version, checksum, platform, device_id, stored_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		payload = excluded.payload,
		timestamp = excluded.timestamp,
		version = excluded.version,
		checksum = excluded.checksum,
		platform = excluded.platform,
		device_id = excluded.device_id,
		stored_at = excluded.stored_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		item.ID,
		string(item.Type),
		string(payload),
		item.Timestamp.UTC().Format(time.RFC3339Nano),
		item.Version,
		item.Checksum,
		string(item.Platform),
		item.DeviceID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", item.ID, err)
	}
	return nil
}

// GetAllRecords returns every stored record ordered by id.
func (db *DB) GetAllRecords(ctx context.Context) ([]record.SyncItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, type, payload, timestamp, version, checksum, platform, device_id
		FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var items []record.SyncItem
	for rows.Next() {
		var (
			item               record.SyncItem
			typ, payload, ts   string
			platform, deviceID sql.NullString
		)
		if err := rows.Scan(&item.ID, &typ, &payload, &ts, &item.Version, &item.Checksum, &platform, &deviceID); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		item.Type = record.ItemType(typ)
		item.Platform = record.Platform(platform.String)
		item.DeviceID = deviceID.String
		if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", item.ID, err)
		}
		if item.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp of %s: %w", item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return items, nil
}

// RecordCount returns the number of stored records.
func (db *DB) RecordCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Conflict is a logged local/remote pair the resolver settled by preferring local.
type Conflict struct {
	ID         int64
	RecordID   string
	Local      record.SyncItem
	Remote     record.SyncItem
	DetectedAt time.Time
	ResolvedAt *time.Time
}

// RecordConflict appends an unresolved pair to the conflict log.
func (db *DB) RecordConflict(ctx context.Context, local, remote record.SyncItem) (int64, error) {
	localJSON, err := json.Marshal(local)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal local record: %w", err)
	}
	remoteJSON, err := json.Marshal(remote)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal remote record: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO conflicts (record_id, local, remote, detected_at) VALUES (?, ?, ?, ?)`,
		local.ID, string(localJSON), string(remoteJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to record conflict for %s: %w", local.ID, err)
	}
	return res.LastInsertId()
}

// ListConflicts returns logged conflicts, oldest first. When openOnly is set
// resolved entries are skipped.
func (db *DB) ListConflicts(ctx context.Context, openOnly bool) ([]Conflict, error) {
	query := `SELECT id, record_id, local, remote, detected_at, resolved_at FROM conflicts`
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var (
			c                 Conflict
			local, remote, at string
			resolved          sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.RecordID, &local, &remote, &at, &resolved); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		if err := json.Unmarshal([]byte(local), &c.Local); err != nil {
			return nil, fmt.Errorf("failed to decode local record of conflict %d: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(remote), &c.Remote); err != nil {
			return nil, fmt.Errorf("failed to decode remote record of conflict %d: %w", c.ID, err)
		}
		c.DetectedAt, _ = time.Parse(time.RFC3339Nano, at)
		if resolved.Valid {
			t, _ := time.Parse(time.RFC3339Nano, resolved.String)
			c.ResolvedAt = &t
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflicts: %w", err)
	}
	return out, nil
}

// ResolveConflict marks a logged conflict as handled.
func (db *DB) ResolveConflict(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE conflicts SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("conflict %d: %w", id, ErrConflictNotFound)
	}
	return nil
}
