// Package record defines the unit of synchronization shared by every device.
//
// A SyncItem is a versioned, checksummed, type-tagged blob. The sync core
// treats Payload as opaque: it never looks inside except to compute the
// checksum and to honor the deletion marker as ordinary data.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ItemType is the domain category of a record.
type ItemType string

const (
	// TypeJournal is a journal entry.
	TypeJournal ItemType = "journal"

	// TypeContribution is a contribution log entry.
	TypeContribution ItemType = "contribution"

	// TypeLifeArea is a life-area score.
	TypeLifeArea ItemType = "life_area"

	// TypeSettings holds user settings. Mergeable by default.
	TypeSettings ItemType = "settings"

	// TypeGoalList is an additive list of goals. Mergeable by default.
	TypeGoalList ItemType = "goal_list"
)

// ItemTypes lists every valid ItemType.
var ItemTypes = []ItemType{TypeJournal, TypeContribution, TypeLifeArea, TypeSettings, TypeGoalList}

// IsValid reports whether t is one of the known item types.
func (t ItemType) IsValid() bool {
	for _, known := range ItemTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseItemType converts s into an ItemType, rejecting unknown values.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown item type %q", s)
	}
	return t, nil
}

// Platform tags the kind of client that produced a record.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformServer  Platform = "server"
	PlatformDesktop Platform = "desktop"
)

// DeletedKey is the payload key that marks a record as deleted.
const DeletedKey = "_deleted"

// SyncItem is the versioned unit of sync.
type SyncItem struct {
	ID        string         `json:"id"`
	Type      ItemType       `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Version   int64          `json:"version"`
	Checksum  string         `json:"checksum"`
	Platform  Platform       `json:"platform,omitempty"`
	DeviceID  string         `json:"deviceId,omitempty"`
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// Checksum computes the content digest of a payload.
//
// The payload is encoded as canonical JSON (encoding/json sorts map keys)
// and hashed with SHA-256.
func Checksum(payload map[string]any) string {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Unencodable payloads still need a stable, distinct digest.
		data = []byte(fmt.Sprintf("%#v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Normalize recomputes the checksum from the payload, discarding whatever
// checksum the item arrived with.
func (it SyncItem) Normalize() SyncItem {
	it.Checksum = Checksum(it.Payload)
	return it
}

// Verify reports whether the carried checksum matches the payload.
func (it SyncItem) Verify() bool {
	return it.Checksum == Checksum(it.Payload)
}

// IsDeleted reports whether the payload carries the deletion marker.
func (it SyncItem) IsDeleted() bool {
	v, ok := it.Payload[DeletedKey].(bool)
	return ok && v
}

// SameContent reports whether two items carry identical id, version and checksum.
func (it SyncItem) SameContent(other SyncItem) bool {
	return it.ID == other.ID && it.Version == other.Version && it.Checksum == other.Checksum
}

// Validate checks the fields every record must carry.
func (it SyncItem) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	if !it.Type.IsValid() {
		return fmt.Errorf("record %s has unknown type %q", it.ID, it.Type)
	}
	if it.Version < 0 {
		return fmt.Errorf("record %s has negative version %d", it.ID, it.Version)
	}
	return nil
}

// Clone returns a copy whose payload map can be modified independently.
func (it SyncItem) Clone() SyncItem {
	it.Payload = ClonePayload(it.Payload)
	return it
}

// CanonicalPayload returns a copy of p in the shape encoding/json decodes
// it to: numbers become float64, structs become maps. Checksums computed on
// the result survive any JSON round trip. Payloads that cannot be encoded
// are an error.
func CanonicalPayload(p map[string]any) (map[string]any, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return out, nil
}

// ClonePayload deep-copies a JSON-shaped payload.
func ClonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return ClonePayload(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}
