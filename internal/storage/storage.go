// Package storage defines the on-device persistence capability the sync
// engine is written against, plus an in-memory implementation.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/lifesync/lifesync/internal/record"
)

// Storage persists the latest known record per id.
//
// Implementations exist per target platform; the engine only ever talks
// to this interface.
type Storage interface {
	// PutRecord inserts or replaces the stored record for item.ID.
	PutRecord(ctx context.Context, item record.SyncItem) error

	// GetAllRecords enumerates every stored record.
	GetAllRecords(ctx context.Context) ([]record.SyncItem, error)

	// Close releases any underlying resources.
	Close() error
}

// Memory is a Storage backed by a map. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records map[string]record.SyncItem
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]record.SyncItem)}
}

// PutRecord implements Storage.PutRecord.
func (m *Memory) PutRecord(_ context.Context, item record.SyncItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[item.ID] = item.Clone()
	return nil
}

// GetAllRecords implements Storage.GetAllRecords. Results are ordered by id.
func (m *Memory) GetAllRecords(_ context.Context) ([]record.SyncItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]record.SyncItem, 0, len(m.records))
	for _, item := range m.records {
		out = append(out, item.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Close implements Storage.Close.
func (m *Memory) Close() error {
	return nil
}
