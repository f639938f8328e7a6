package cache

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"testing"
	"time"

	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/storage"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func item(id string, version int64, text string) record.SyncItem {
	return record.SyncItem{
		ID:        id,
		Type:      record.TypeJournal,
		Payload:   map[string]any{"text": text},
		Timestamp: time.Unix(version, 0),
		Version:   version,
	}
}

func TestPutResults(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		seed   *record.SyncItem
		put    record.SyncItem
		want   PutResult
		wantV  int64
		wantTx string
	}{
		{"insert", nil, item("a", 1, "x"), Inserted, 1, "x"},
		{"newer", ptr(item("a", 1, "x")), item("a", 2, "y"), Updated, 2, "y"},
		{"older", ptr(item("a", 3, "x")), item("a", 2, "y"), Stale, 3, "x"},
		{"same content", ptr(item("a", 2, "x")), item("a", 2, "x"), Unchanged, 2, "x"},
		{"same version different content", ptr(item("a", 2, "x")), item("a", 2, "y"), Divergent, 2, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil, quietLogger())
			if tt.seed != nil {
				c.Put(ctx, *tt.seed)
			}
			if got := c.Put(ctx, tt.put); got != tt.want {
				t.Errorf("Put() = %s, want %s", got, tt.want)
			}
			cur, ok := c.Get("a")
			if !ok {
				t.Fatal("record missing from cache")
			}
			if cur.Version != tt.wantV || cur.Payload["text"] != tt.wantTx {
				t.Errorf("cached = v%d %v, want v%d %s", cur.Version, cur.Payload["text"], tt.wantV, tt.wantTx)
			}
		})
	}
}

func TestVersionMonotonic(t *testing.T) {
	ctx := context.Background()
	c := New(nil, quietLogger())
	rng := rand.New(rand.NewSource(42))

	var last int64
	for i := 0; i < 500; i++ {
		v := int64(rng.Intn(50))
		c.Put(ctx, item("id", v, string(rune('a'+rng.Intn(3)))))
		cur, _ := c.Get("id")
		if cur.Version < last {
			t.Fatalf("version went from %d to %d", last, cur.Version)
		}
		last = cur.Version
	}
}

func TestPutIgnoresWireChecksum(t *testing.T) {
	ctx := context.Background()
	c := New(nil, quietLogger())

	c.Put(ctx, item("a", 1, "x"))
	forged := item("a", 1, "y")
	forged.Checksum = record.Checksum(map[string]any{"text": "x"})

	if got := c.Put(ctx, forged); got != Divergent {
		t.Errorf("Put with forged checksum = %s, want divergent", got)
	}
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	c := New(nil, quietLogger())
	c.Put(ctx, item("a", 5, "x"))

	if !c.Replace(ctx, item("a", 5, "merged")) {
		t.Error("Replace at equal version refused")
	}
	if c.Replace(ctx, item("a", 4, "old")) {
		t.Error("Replace at lower version accepted")
	}
	cur, _ := c.Get("a")
	if cur.Payload["text"] != "merged" {
		t.Errorf("payload = %v", cur.Payload["text"])
	}
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()

	c := New(store, quietLogger())
	c.Put(ctx, item("a", 1, "x"))
	c.Put(ctx, item("b", 2, "y"))
	c.Put(ctx, item("a", 0, "stale"))

	fresh := New(store, quietLogger())
	n, err := fresh.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if n != 2 || fresh.Len() != 2 {
		t.Fatalf("loaded %d records, cache len %d", n, fresh.Len())
	}
	got, _ := fresh.Get("a")
	if got.Payload["text"] != "x" {
		t.Errorf("stale write reached storage: %+v", got)
	}
}

type failingStore struct{ storage.Memory }

func (f *failingStore) PutRecord(context.Context, record.SyncItem) error {
	return errors.New("disk full")
}

func TestPersistFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	c := New(&failingStore{}, quietLogger())

	if got := c.Put(ctx, item("a", 1, "x")); got != Inserted {
		t.Fatalf("Put() = %s, want inserted", got)
	}
	if c.Len() != 1 {
		t.Errorf("record not kept in memory")
	}
	if c.PersistFailures() != 1 {
		t.Errorf("PersistFailures() = %d, want 1", c.PersistFailures())
	}
}

func TestAllSorted(t *testing.T) {
	ctx := context.Background()
	c := New(nil, quietLogger())
	for _, id := range []string{"c", "a", "b"} {
		c.Put(ctx, item(id, 1, id))
	}
	all := c.All()
	if len(all) != 3 || all[0].ID != "a" || all[2].ID != "c" {
		t.Errorf("All() not ordered by id: %v", all)
	}
}

func ptr(it record.SyncItem) *record.SyncItem { return &it }
