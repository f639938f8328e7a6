package conflict

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lifesync/lifesync/internal/record"
)

func rec(typ record.ItemType, version int64, ts int64, payload map[string]any, device string) record.SyncItem {
	return record.SyncItem{
		ID:        "X",
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Unix(ts, 0).UTC(),
		Version:   version,
		DeviceID:  device,
	}.Normalize()
}

func TestLastWriteWins(t *testing.T) {
	r := NewResolver()
	a := rec(record.TypeJournal, 6, 10, map[string]any{"text": "from A"}, "A")
	b := rec(record.TypeJournal, 6, 12, map[string]any{"text": "from B"}, "B")

	for _, pair := range [][2]record.SyncItem{{a, b}, {b, a}} {
		res, err := r.Resolve(pair[0], pair[1])
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if res.Strategy != StrategyLastWriteWins {
			t.Errorf("strategy = %s", res.Strategy)
		}
		if diff := cmp.Diff(b, res.Item); diff != "" {
			t.Errorf("winner mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestLastWriteWinsAppliesToMergeableTypes(t *testing.T) {
	r := NewResolver()
	local := rec(record.TypeSettings, 3, 20, map[string]any{"theme": "dark"}, "A")
	remote := rec(record.TypeSettings, 4, 10, map[string]any{"theme": "light"}, "B")

	res, err := r.Resolve(local, remote)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Strategy != StrategyLastWriteWins || res.Item.Payload["theme"] != "dark" || res.Item.Version != 3 {
		t.Errorf("unexpected resolution: %+v", res)
	}
}

func TestMergeOnTie(t *testing.T) {
	r := NewResolver()
	local := rec(record.TypeSettings, 6, 12, map[string]any{"theme": "dark", "lang": "en"}, "A")
	remote := rec(record.TypeSettings, 7, 12, map[string]any{"theme": "light", "tz": "UTC"}, "B")

	res, err := r.Resolve(local, remote)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Strategy != StrategyMerged {
		t.Fatalf("strategy = %s, want merged", res.Strategy)
	}

	want := map[string]any{"theme": "dark", "lang": "en", "tz": "UTC"}
	if diff := cmp.Diff(want, res.Item.Payload); diff != "" {
		t.Errorf("merged payload (-want +got):\n%s", diff)
	}
	if res.Item.Version != 8 {
		t.Errorf("version = %d, want 8", res.Item.Version)
	}
	if !res.Item.Verify() {
		t.Error("merged checksum not recomputed")
	}
	if res.Unresolved() {
		t.Error("merge reported as unresolved")
	}
}

func TestMergeUsesClock(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver()
	r.Clock = func() time.Time { return at }

	local := rec(record.TypeGoalList, 1, 5, map[string]any{"a": 1.0}, "A")
	remote := rec(record.TypeGoalList, 1, 5, map[string]any{"b": 2.0}, "B")

	res, _ := r.Resolve(local, remote)
	if !res.Item.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", res.Item.Timestamp, at)
	}
}

func TestPreferLocalFallback(t *testing.T) {
	r := NewResolver()
	local := rec(record.TypeJournal, 6, 12, map[string]any{"text": "mine"}, "A")
	remote := rec(record.TypeJournal, 6, 12, map[string]any{"text": "theirs"}, "B")

	res, err := r.Resolve(local, remote)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Strategy != StrategyPreferLocal || !res.Unresolved() {
		t.Errorf("strategy = %s", res.Strategy)
	}
	if res.Item.Payload["text"] != "mine" {
		t.Errorf("payload = %v", res.Item.Payload)
	}
}

func TestResolveDeterministic(t *testing.T) {
	r := NewResolver()
	pairs := [][2]record.SyncItem{
		{rec(record.TypeJournal, 1, 1, map[string]any{"x": 1.0}, "A"), rec(record.TypeJournal, 2, 2, map[string]any{"x": 2.0}, "B")},
		{rec(record.TypeSettings, 4, 9, map[string]any{"x": 1.0}, "A"), rec(record.TypeSettings, 4, 9, map[string]any{"y": 2.0}, "B")},
		{rec(record.TypeLifeArea, 4, 9, map[string]any{"x": 1.0}, "A"), rec(record.TypeLifeArea, 4, 9, map[string]any{"y": 2.0}, "B")},
	}

	for _, p := range pairs {
		first, err := r.Resolve(p[0], p[1])
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		for i := 0; i < 5; i++ {
			again, _ := r.Resolve(p[0], p[1])
			if diff := cmp.Diff(first, again); diff != "" {
				t.Fatalf("non-deterministic resolution (-first +again):\n%s", diff)
			}
		}
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	r := NewResolver()
	local := rec(record.TypeSettings, 1, 5, map[string]any{"a": 1.0}, "A")
	remote := rec(record.TypeSettings, 1, 5, map[string]any{"b": 2.0}, "B")

	res, _ := r.Resolve(local, remote)
	res.Item.Payload["c"] = 3.0

	if len(local.Payload) != 1 || len(remote.Payload) != 1 {
		t.Errorf("inputs mutated: local=%v remote=%v", local.Payload, remote.Payload)
	}
}

func TestResolveErrors(t *testing.T) {
	r := NewResolver()
	good := rec(record.TypeJournal, 1, 1, nil, "A")

	other := good
	other.ID = "Y"

	bad := good
	bad.Type = "unknown"

	tests := []struct {
		name   string
		local  record.SyncItem
		remote record.SyncItem
		want   error
	}{
		{"id mismatch", good, other, ErrIDMismatch},
		{"malformed local", bad, good, ErrMalformed},
		{"malformed remote", good, bad, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.local, tt.remote)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCustomMergeableSet(t *testing.T) {
	r := NewResolver(record.TypeJournal)
	if !r.IsMergeable(record.TypeJournal) || r.IsMergeable(record.TypeSettings) {
		t.Error("custom mergeable set not honored")
	}
}
