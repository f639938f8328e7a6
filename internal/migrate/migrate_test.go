package migrate

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lifesync/lifesync/internal/record"
)

func positiveA(d Dataset) bool {
	a, ok := d["a"].(float64)
	return ok && a > 0
}

func setKey(key string, value any) func(Dataset) (Dataset, error) {
	return func(d Dataset) (Dataset, error) {
		d[key] = value
		return d, nil
	}
}

func mustRegister(t *testing.T, m *Manager, p Path) {
	t.Helper()
	if err := m.Register(p); err != nil {
		t.Fatalf("Register(%s -> %s) failed: %v", p.From, p.To, err)
	}
}

func TestMigrateSingleStep(t *testing.T) {
	m := NewManager()
	mustRegister(t, m, Path{From: "v1", To: "v2", Validate: positiveA, Transform: setKey("b", "added")})

	got, err := m.Migrate(Dataset{"a": 1.0}, "v1", "v2")
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if diff := cmp.Diff(Dataset{"a": 1.0, "b": "added"}, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	input := Dataset{"a": -1.0}
	_, err = m.Migrate(input, "v1", "v2")
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if verr.From != "v1" || verr.To != "v2" {
		t.Errorf("ValidationError = %+v", verr)
	}
	if diff := cmp.Diff(Dataset{"a": -1.0}, input); diff != "" {
		t.Errorf("input mutated (-want +got):\n%s", diff)
	}
}

func TestMigrateChainAppliesInOrder(t *testing.T) {
	m := NewManager()
	var order []string
	step := func(name string) func(Dataset) (Dataset, error) {
		return func(d Dataset) (Dataset, error) {
			order = append(order, name)
			d["steps"] = append(d["steps"].([]any), name)
			return d, nil
		}
	}
	mustRegister(t, m, Path{From: "v1", To: "v2", Transform: step("v1->v2")})
	mustRegister(t, m, Path{From: "v2", To: "v3", Transform: step("v2->v3")})

	got, err := m.Migrate(Dataset{"steps": []any{}}, "v1", "v3")
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if diff := cmp.Diff([]string{"v1->v2", "v2->v3"}, order); diff != "" {
		t.Errorf("transform order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{"v1->v2", "v2->v3"}, got["steps"]); diff != "" {
		t.Errorf("steps (-want +got):\n%s", diff)
	}
}

func TestMigrateChainValidatesIntermediate(t *testing.T) {
	m := NewManager()
	mustRegister(t, m, Path{From: "v1", To: "v2", Transform: setKey("a", -5.0)})
	mustRegister(t, m, Path{From: "v2", To: "v3", Validate: positiveA, Transform: setKey("c", true)})

	got, err := m.Migrate(Dataset{"a": 1.0}, "v1", "v3")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if got != nil {
		t.Errorf("partial result returned: %v", got)
	}
}

func TestMigrateRegisteredDowngrade(t *testing.T) {
	m := NewManager()
	mustRegister(t, m, Path{From: "v1", To: "v2", Transform: setKey("b", 2.0)})
	mustRegister(t, m, Path{From: "v2", To: "v1", Transform: setKey("b", 1.0)})

	got, err := m.Migrate(Dataset{"b": 2.0}, "v2", "v1")
	if err != nil {
		t.Fatalf("Migrate(v2 -> v1) failed: %v", err)
	}
	if got["b"] != 1.0 {
		t.Errorf("got %v", got)
	}
}

func TestMigrateErrors(t *testing.T) {
	m := NewManager()
	mustRegister(t, m, Path{From: "v1", To: "v2", Transform: setKey("x", 1.0)})
	mustRegister(t, m, Path{From: "alpha", To: "beta", Transform: setKey("x", 1.0)})
	mustRegister(t, m, Path{From: "beta", To: "alpha", Transform: setKey("x", 1.0)})

	failing := func(Dataset) (Dataset, error) { return nil, fmt.Errorf("boom") }
	mustRegister(t, m, Path{From: "v5", To: "v6", Transform: failing})

	tests := []struct {
		name     string
		from, to string
		want     error
	}{
		{"no path", "v1", "v3", ErrNoPath},
		{"unknown source", "v9", "v10", ErrNoPath},
		{"downgrade", "v3", "v1", ErrDowngrade},
		{"downgrade is also no path", "v3", "v1", ErrNoPath},
		{"cycle", "alpha", "gamma", ErrCycle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Migrate(Dataset{}, tt.from, tt.to)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("transform error", func(t *testing.T) {
		_, err := m.Migrate(Dataset{}, "v5", "v6")
		if err == nil {
			t.Error("expected transform error")
		}
	})
}

func TestMigrateSameVersion(t *testing.T) {
	m := NewManager()
	got, err := m.Migrate(Dataset{"a": 1.0}, "v2", "v2")
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if got["a"] != 1.0 {
		t.Errorf("got %v", got)
	}
}

func TestFirstMatchWins(t *testing.T) {
	m := NewManager()
	mustRegister(t, m, Path{From: "v1", To: "v2", Transform: setKey("route", "first")})
	mustRegister(t, m, Path{From: "v1", To: "v3", Transform: setKey("route", "second")})
	mustRegister(t, m, Path{From: "v2", To: "v3", Transform: func(d Dataset) (Dataset, error) { return d, nil }})

	got, err := m.Migrate(Dataset{}, "v1", "v3")
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if got["route"] != "first" {
		t.Errorf("route = %v, want first", got["route"])
	}

	plan, _ := m.Plan("v1", "v3")
	if len(plan) != 2 {
		t.Errorf("plan length = %d, want 2", len(plan))
	}
}

func TestRegisterRejectsIncompletePaths(t *testing.T) {
	m := NewManager()
	noop := setKey("x", 1.0)

	bad := []Path{
		{To: "v2", Transform: noop},
		{From: "v1", Transform: noop},
		{From: "v1", To: "v1", Transform: noop},
		{From: "v1", To: "v2"},
	}
	for _, p := range bad {
		if err := m.Register(p); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Register(%+v) error = %v", p, err)
		}
	}
	if len(m.Paths()) != 0 {
		t.Errorf("invalid paths were registered")
	}
}

func TestMigrateItem(t *testing.T) {
	m := NewManager()
	mustRegister(t, m, Path{From: "v1", To: "v2", Transform: func(d Dataset) (Dataset, error) {
		d["score"] = d["rating"]
		delete(d, "rating")
		return d, nil
	}})

	item := record.SyncItem{
		ID:      "la-1",
		Type:    record.TypeLifeArea,
		Version: 4,
		Payload: map[string]any{"rating": 7.0},
	}.Normalize()

	out, err := m.MigrateItem(item, "v1", "v2")
	if err != nil {
		t.Fatalf("MigrateItem failed: %v", err)
	}
	if out.Payload["score"] != 7.0 || out.Payload[SchemaKey] != "v2" {
		t.Errorf("payload = %v", out.Payload)
	}
	if out.Version != 4 || !out.Verify() {
		t.Errorf("version/checksum wrong: %+v", out)
	}
	if _, ok := item.Payload["score"]; ok {
		t.Error("source record mutated")
	}

	again, err := m.MigrateItem(out, "v1", "v2")
	if err != nil || again.Checksum != out.Checksum {
		t.Errorf("already-migrated record changed: %v", err)
	}
}
