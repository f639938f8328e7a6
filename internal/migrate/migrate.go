// Package migrate moves record data forward across schema versions.
//
// Applications register edges (from → to, with a validate predicate and a
// transform) once at startup. Migrate walks those edges linearly from the
// source version until it reaches the target.
//
// The walk is first-match: when two edges leave the same version, the one
// registered first is taken. Edges may point backwards; a registered
// v2 -> v1 edge migrates down like any other. When no path exists and both
// labels are valid semver (v1, v1.2, v1.2.3) with the target first, the
// error also matches ErrDowngrade.
package migrate

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/lifesync/lifesync/internal/record"
)

var (
	// ErrNoPath is returned when no edge leaves an intermediate version.
	ErrNoPath = errors.New("no migration path")

	// ErrValidation is wrapped by *ValidationError.
	ErrValidation = errors.New("migration validation failed")

	// ErrDowngrade is wrapped together with ErrNoPath when no path exists
	// and the target semver precedes the source.
	ErrDowngrade = errors.New("migration target precedes source")

	// ErrCycle is returned when the walk revisits a version.
	ErrCycle = errors.New("migration path cycles")

	// ErrInvalidPath is returned by Register for incomplete edges.
	ErrInvalidPath = errors.New("invalid migration path")
)

// Dataset is the JSON-shaped data a migration operates on.
type Dataset = map[string]any

// Path is one edge in the version graph.
type Path struct {
	From string
	To   string

	// Validate must hold on the input before Transform runs. Nil means always valid.
	Validate func(Dataset) bool

	// Transform produces the data at version To.
	Transform func(Dataset) (Dataset, error)
}

// ValidationError reports which step rejected its input.
type ValidationError struct {
	From string
	To   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("migration %s -> %s: input rejected by validate", e.From, e.To)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Manager holds the registered edges.
type Manager struct {
	mu    sync.RWMutex
	paths []Path
}

// NewManager creates a manager with no edges.
func NewManager() *Manager {
	return &Manager{}
}

// Register appends an edge.
func (m *Manager) Register(p Path) error {
	if p.From == "" || p.To == "" {
		return fmt.Errorf("%w: from and to are required", ErrInvalidPath)
	}
	if p.From == p.To {
		return fmt.Errorf("%w: %s -> %s is a self loop", ErrInvalidPath, p.From, p.To)
	}
	if p.Transform == nil {
		return fmt.Errorf("%w: %s -> %s has no transform", ErrInvalidPath, p.From, p.To)
	}

	m.mu.Lock()
	m.paths = append(m.paths, p)
	m.mu.Unlock()
	return nil
}

// Paths returns the registered edges in registration order.
func (m *Manager) Paths() []Path {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Path, len(m.paths))
	copy(out, m.paths)
	return out
}

// Plan returns the sequence of edges Migrate would apply, without running them.
func (m *Manager) Plan(from, to string) ([]Path, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var plan []Path
	seen := map[string]bool{from: true}
	current := from
	for current != to {
		next, ok := m.firstFrom(current)
		if !ok {
			if isDowngrade(from, to) {
				return nil, fmt.Errorf("%w: %w: nothing registered from %s (target %s)", ErrNoPath, ErrDowngrade, current, to)
			}
			return nil, fmt.Errorf("%w: nothing registered from %s (target %s)", ErrNoPath, current, to)
		}
		if seen[next.To] {
			return nil, fmt.Errorf("%w: %s revisited on the way to %s", ErrCycle, next.To, to)
		}
		seen[next.To] = true
		plan = append(plan, next)
		current = next.To
	}
	return plan, nil
}

func isDowngrade(from, to string) bool {
	return semver.IsValid(from) && semver.IsValid(to) && semver.Compare(to, from) < 0
}

func (m *Manager) firstFrom(version string) (Path, bool) {
	for _, p := range m.paths {
		if p.From == version {
			return p, true
		}
	}
	return Path{}, false
}

// Migrate transforms data from one version to another.
//
// data is never mutated. Any failure aborts the whole call and no partial
// result is returned.
func (m *Manager) Migrate(data Dataset, from, to string) (Dataset, error) {
	plan, err := m.Plan(from, to)
	if err != nil {
		return nil, err
	}

	current := record.ClonePayload(data)
	for _, step := range plan {
		if step.Validate != nil && !step.Validate(current) {
			return nil, &ValidationError{From: step.From, To: step.To}
		}
		next, err := step.Transform(current)
		if err != nil {
			return nil, fmt.Errorf("migration %s -> %s failed: %w", step.From, step.To, err)
		}
		current = next
	}
	if current == nil {
		current = Dataset{}
	}
	return current, nil
}

// SchemaKey is the payload key recording a record's schema version.
const SchemaKey = "_schema"

// MigrateItem migrates one record's payload to version to. Records without
// a SchemaKey are assumed to be at defaultFrom. The result carries the new
// SchemaKey and a recomputed checksum; the record version is not changed.
func (m *Manager) MigrateItem(item record.SyncItem, defaultFrom, to string) (record.SyncItem, error) {
	from, _ := item.Payload[SchemaKey].(string)
	if from == "" {
		from = defaultFrom
	}
	if from == to {
		return item, nil
	}

	payload, err := m.Migrate(item.Payload, from, to)
	if err != nil {
		return record.SyncItem{}, fmt.Errorf("record %s: %w", item.ID, err)
	}
	payload[SchemaKey] = to

	out := item.Clone()
	out.Payload = payload
	return out.Normalize(), nil
}
