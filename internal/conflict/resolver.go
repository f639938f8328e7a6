// Package conflict decides which version of a record survives when two
// devices produced different content for the same id.
//
// Policy, in order:
//  1. Last write wins when timestamps differ.
//  2. Shallow merge (local keys win) for mergeable types when timestamps tie.
//  3. Otherwise keep the local record and report the pair as unresolved.
//
// Resolve is pure: same inputs, same output, no I/O.
package conflict

import (
	"errors"
	"fmt"
	"time"

	"github.com/lifesync/lifesync/internal/record"
)

var (
	// ErrIDMismatch is returned when the two records don't share an id.
	ErrIDMismatch = errors.New("records have different ids")

	// ErrMalformed is returned when either record fails validation.
	ErrMalformed = errors.New("malformed record")
)

// Strategy names the rule that produced a resolution.
type Strategy string

const (
	// StrategyLastWriteWins means the record with the later timestamp was taken as-is.
	StrategyLastWriteWins Strategy = "last_write_wins"

	// StrategyMerged means the payloads were shallow-merged into a new version.
	StrategyMerged Strategy = "merged"

	// StrategyPreferLocal means neither rule applied and the local record was kept.
	// The remote edit is dropped unless the host application intervenes.
	StrategyPreferLocal Strategy = "prefer_local"
)

// Resolution is the outcome of resolving a pair.
type Resolution struct {
	Item     record.SyncItem
	Strategy Strategy
}

// Unresolved reports whether the host should offer a manual merge.
func (r Resolution) Unresolved() bool {
	return r.Strategy == StrategyPreferLocal
}

// DefaultMergeable lists the types merged field-by-field on a timestamp tie.
var DefaultMergeable = []record.ItemType{record.TypeSettings, record.TypeGoalList}

// Resolver applies the conflict policy.
type Resolver struct {
	mergeable map[record.ItemType]bool

	// Clock, when set, stamps merged records. When nil the merged record
	// keeps the tied input timestamp, which keeps Resolve deterministic.
	Clock func() time.Time
}

// NewResolver creates a resolver that merges the given types. With no
// arguments DefaultMergeable is used.
func NewResolver(mergeable ...record.ItemType) *Resolver {
	if len(mergeable) == 0 {
		mergeable = DefaultMergeable
	}
	r := &Resolver{mergeable: make(map[record.ItemType]bool, len(mergeable))}
	for _, t := range mergeable {
		r.mergeable[t] = true
	}
	return r
}

// IsMergeable reports whether t is merged on timestamp ties.
func (r *Resolver) IsMergeable(t record.ItemType) bool {
	return r.mergeable[t]
}

// Resolve returns the accepted version of a record given the local and
// remote copies.
func (r *Resolver) Resolve(local, remote record.SyncItem) (Resolution, error) {
	if err := local.Validate(); err != nil {
		return Resolution{}, fmt.Errorf("%w: local: %v", ErrMalformed, err)
	}
	if err := remote.Validate(); err != nil {
		return Resolution{}, fmt.Errorf("%w: remote: %v", ErrMalformed, err)
	}
	if local.ID != remote.ID {
		return Resolution{}, fmt.Errorf("%w: %s vs %s", ErrIDMismatch, local.ID, remote.ID)
	}

	local = local.Normalize()
	remote = remote.Normalize()

	if !local.Timestamp.Equal(remote.Timestamp) {
		winner := local
		if remote.Timestamp.After(local.Timestamp) {
			winner = remote
		}
		return Resolution{Item: winner.Clone(), Strategy: StrategyLastWriteWins}, nil
	}

	if r.IsMergeable(local.Type) && local.Type == remote.Type {
		return Resolution{Item: r.merge(local, remote), Strategy: StrategyMerged}, nil
	}

	return Resolution{Item: local.Clone(), Strategy: StrategyPreferLocal}, nil
}

// merge builds a new record whose payload is remote overlaid with local.
func (r *Resolver) merge(local, remote record.SyncItem) record.SyncItem {
	payload := record.ClonePayload(remote.Payload)
	if payload == nil {
		payload = make(map[string]any, len(local.Payload))
	}
	for k, v := range record.ClonePayload(local.Payload) {
		payload[k] = v
	}

	version := local.Version
	if remote.Version > version {
		version = remote.Version
	}

	ts := local.Timestamp
	if r.Clock != nil {
		ts = r.Clock()
	}

	merged := record.SyncItem{
		ID:        local.ID,
		Type:      local.Type,
		Payload:   payload,
		Timestamp: ts,
		Version:   version + 1,
		Platform:  local.Platform,
		DeviceID:  local.DeviceID,
	}
	return merged.Normalize()
}
