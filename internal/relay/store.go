package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/lifesync/lifesync/internal/record"
)

// Outcome of one pushed record.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// userState is everything the relay holds for one user.
type userState struct {
	records map[string]record.SyncItem
	devices map[string]record.DeviceInfo
}

// Store is the relay's authoritative record set, partitioned by user.
// It is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	users map[string]*userState
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{users: make(map[string]*userState), now: time.Now}
}

func (s *Store) user(id string) *userState {
	u, ok := s.users[id]
	if !ok {
		u = &userState{
			records: make(map[string]record.SyncItem),
			devices: make(map[string]record.DeviceInfo),
		}
		s.users[id] = u
	}
	return u
}

// PushResult splits a pushed batch.
type PushResult struct {
	// Accepted records are now authoritative and go to the user's other devices.
	Accepted []record.SyncItem
	// Newer holds the stored record for every push that was not accepted
	// and differs from it; the pushing device must reconcile them.
	Newer []record.SyncItem
}

// Push applies a batch from one device. A record is accepted only when its
// version is above the stored one. Serializing pushes through the store is
// what makes versions per id totally ordered.
func (s *Store) Push(userID string, items []record.SyncItem) PushResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	var res PushResult
	for _, it := range items {
		it = it.Normalize()
		cur, ok := u.records[it.ID]
		switch {
		case !ok || it.Version > cur.Version:
			u.records[it.ID] = it.Clone()
			res.Accepted = append(res.Accepted, it)
		case cur.SameContent(it):
		default:
			res.Newer = append(res.Newer, cur.Clone())
		}
	}
	return res
}

// Outcomes counts a PushResult per outcome label for the given batch size.
func (r PushResult) Outcomes(batch int) map[string]int {
	return map[string]int{
		OutcomeAccepted:  len(r.Accepted),
		OutcomeRejected:  len(r.Newer),
		OutcomeDuplicate: batch - len(r.Accepted) - len(r.Newer),
	}
}

// Records returns every record of a user ordered by id.
func (s *Store) Records(userID string) []record.SyncItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	out := make([]record.SyncItem, 0, len(u.records))
	for _, it := range u.records {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Touch records activity from a device and sets its status.
func (s *Store) Touch(userID, deviceID string, platform record.Platform, status record.DeviceStatus) {
	if deviceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	d := u.devices[deviceID]
	d.ID = deviceID
	if d.Name == "" {
		d.Name = deviceID
	}
	if platform != "" {
		d.Platform = platform
	}
	d.LastSeen = s.now().UTC()
	d.Status = status
	u.devices[deviceID] = d
}

// Devices returns every known device of a user ordered by id.
func (s *Store) Devices(userID string) []record.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	out := make([]record.DeviceInfo, 0, len(u.devices))
	for _, d := range u.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
