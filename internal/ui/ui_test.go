package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/lifesync/lifesync/internal/engine"
	"github.com/lifesync/lifesync/internal/record"
)

func TestAgo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := Ago(tt.at, now); got != tt.want {
			t.Errorf("Ago(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := engine.SyncStatus{
		Online:   false,
		LastSync: now.Add(-2 * time.Minute),
		Pending:  4,
		Errors:   []engine.ErrorEntry{{Time: now, Op: "push", Message: "status 503"}},
		Devices: []record.DeviceInfo{
			{ID: "b", Name: "phone", Platform: record.PlatformIOS, Status: record.DevicePending},
			{ID: "a", Name: "laptop", Platform: record.PlatformDesktop, Status: record.DeviceSynced, LastSeen: now},
		},
	}

	var buf bytes.Buffer
	PrintStatus(&buf, st, now)
	out := buf.String()

	for _, want := range []string{"offline", "2m ago", "Pending:   4", "push: status 503", "laptop", "phone"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "laptop") > strings.Index(out, "phone") {
		t.Error("devices not sorted by name")
	}
}

func TestDescribeItem(t *testing.T) {
	it := record.SyncItem{
		Type:      record.TypeJournal,
		Version:   3,
		DeviceID:  "phone",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:   map[string]any{record.DeletedKey: true},
	}
	got := DescribeItem(it)
	for _, want := range []string{"journal v3", "from phone", "(deleted)"} {
		if !strings.Contains(got, want) {
			t.Errorf("DescribeItem() = %q, missing %q", got, want)
		}
	}
}
