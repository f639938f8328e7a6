package storage

import (
	"context"
	"testing"

	"github.com/lifesync/lifesync/internal/record"
)

func TestMemoryPutAndEnumerate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	items := []record.SyncItem{
		{ID: "b", Type: record.TypeJournal, Version: 1, Payload: map[string]any{"t": "b"}},
		{ID: "a", Type: record.TypeSettings, Version: 1, Payload: map[string]any{"t": "a"}},
	}
	for _, it := range items {
		if err := m.PutRecord(ctx, it); err != nil {
			t.Fatalf("PutRecord(%s): %v", it.ID, err)
		}
	}

	// Overwrite
	if err := m.PutRecord(ctx, record.SyncItem{ID: "a", Type: record.TypeSettings, Version: 2}); err != nil {
		t.Fatalf("PutRecord overwrite: %v", err)
	}

	all, err := m.GetAllRecords(ctx)
	if err != nil {
		t.Fatalf("GetAllRecords: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].ID != "a" || all[0].Version != 2 {
		t.Errorf("unexpected first record: %+v", all[0])
	}
}

func TestMemoryIsolatesPayloads(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	payload := map[string]any{"k": "v"}
	_ = m.PutRecord(ctx, record.SyncItem{ID: "a", Type: record.TypeJournal, Payload: payload})
	payload["k"] = "mutated"

	all, _ := m.GetAllRecords(ctx)
	if all[0].Payload["k"] != "v" {
		t.Errorf("stored payload aliased caller map")
	}
}
