package relay

import (
	"testing"
	"time"

	"github.com/lifesync/lifesync/internal/record"
)

func rec(id string, version int64, text string) record.SyncItem {
	return record.SyncItem{
		ID:        id,
		Type:      record.TypeJournal,
		Version:   version,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   map[string]any{"text": text},
	}.Normalize()
}

func TestStorePush(t *testing.T) {
	s := NewStore()

	res := s.Push("u", []record.SyncItem{rec("a", 1, "one"), rec("b", 1, "one")})
	if len(res.Accepted) != 2 || len(res.Newer) != 0 {
		t.Fatalf("first push = %+v", res)
	}

	tests := []struct {
		name         string
		item         record.SyncItem
		wantAccepted int
		wantNewer    int
	}{
		{"higher version", rec("a", 2, "two"), 1, 0},
		{"duplicate", rec("a", 2, "two"), 0, 0},
		{"same version different content", rec("a", 2, "other"), 0, 1},
		{"stale", rec("a", 1, "one"), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Push("u", []record.SyncItem{tt.item})
			if len(res.Accepted) != tt.wantAccepted || len(res.Newer) != tt.wantNewer {
				t.Errorf("Push() = %d accepted, %d newer; want %d, %d",
					len(res.Accepted), len(res.Newer), tt.wantAccepted, tt.wantNewer)
			}
			if tt.wantNewer == 1 && res.Newer[0].Version != 2 {
				t.Errorf("newer = %+v", res.Newer[0])
			}
			out := res.Outcomes(1)
			if out[OutcomeAccepted]+out[OutcomeRejected]+out[OutcomeDuplicate] != 1 {
				t.Errorf("outcomes = %v", out)
			}
		})
	}

	if got := s.Records("u"); len(got) != 2 || got[0].ID != "a" || got[0].Version != 2 {
		t.Errorf("Records() = %+v", got)
	}
	if got := s.Records("someone-else"); len(got) != 0 {
		t.Errorf("users not isolated: %+v", got)
	}
}

func TestStoreDevices(t *testing.T) {
	s := NewStore()
	s.now = func() time.Time { return time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC) }

	s.Touch("u", "tablet", record.PlatformAndroid, record.DeviceSynced)
	s.Touch("u", "phone", record.PlatformIOS, record.DeviceSynced)
	s.Touch("u", "phone", "", record.DevicePending)
	s.Touch("u", "", record.PlatformWeb, record.DeviceSynced)

	devices := s.Devices("u")
	if len(devices) != 2 {
		t.Fatalf("Devices() = %+v", devices)
	}
	phone := devices[0]
	if phone.ID != "phone" || phone.Platform != record.PlatformIOS || phone.Status != record.DevicePending {
		t.Errorf("phone = %+v", phone)
	}
	if !phone.LastSeen.Equal(s.now()) {
		t.Errorf("last seen = %v", phone.LastSeen)
	}
}
