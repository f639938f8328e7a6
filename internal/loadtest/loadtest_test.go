package loadtest

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lifesync/lifesync/internal/relay"
)

func startRelay(t *testing.T) string {
	t.Helper()
	s := relay.NewServer(&relay.Config{Addr: "127.0.0.1:0", Logger: log.New(io.Discard, "", 0)})
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return "http://" + s.Addr()
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	apiBase := startRelay(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := &Config{Devices: 3, RecordsPerDevice: 5, SharedRecords: 2}
	res, err := Run(ctx, apiBase, cfg)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Expected != 17 {
		t.Errorf("Expected = %d, want 17", res.Expected)
	}
	if res.ServerRecords != res.Expected {
		t.Errorf("ServerRecords = %d, want %d", res.ServerRecords, res.Expected)
	}
	if res.Mismatched != 0 {
		t.Errorf("Mismatched = %d, want 0", res.Mismatched)
	}
	if res.Push.TotalPushes != 3*(5+2) {
		t.Errorf("TotalPushes = %d, want %d", res.Push.TotalPushes, 3*(5+2))
	}
	if len(res.SharedVersions) != 2 {
		t.Errorf("SharedVersions = %v, want 2 entries", res.SharedVersions)
	}
	for id, v := range res.SharedVersions {
		if v < 1 {
			t.Errorf("%s at version %d", id, v)
		}
	}
}

func TestRunRejectsNegativeCounts(t *testing.T) {
	_, err := Run(context.Background(), "http://127.0.0.1:1", &Config{Devices: -1})
	if err == nil {
		t.Fatal("expected error for negative device count")
	}
}

func TestWithDefaults(t *testing.T) {
	cfg, err := (&Config{SharedRecords: 0}).withDefaults()
	if err != nil {
		t.Fatalf("withDefaults failed: %v", err)
	}
	if cfg.UserID != "loadtest" || cfg.Devices != 10 || cfg.RecordsPerDevice != 20 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.SharedRecords != 0 {
		t.Errorf("SharedRecords = %d, want 0 kept", cfg.SharedRecords)
	}
	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		name string
		in   []time.Duration
		want LatencyStats
	}{
		{
			name: "empty",
			in:   nil,
			want: LatencyStats{},
		},
		{
			name: "single",
			in:   []time.Duration{5 * ms},
			want: LatencyStats{Min: 5 * ms, Max: 5 * ms, Mean: 5 * ms, P50: 5 * ms, P95: 5 * ms, P99: 5 * ms, TotalPushes: 1},
		},
		{
			name: "unsorted",
			in:   []time.Duration{4 * ms, 1 * ms, 3 * ms, 2 * ms},
			want: LatencyStats{Min: 1 * ms, Max: 4 * ms, Mean: 2500 * time.Microsecond, P50: 3 * ms, P95: 4 * ms, P99: 4 * ms, TotalPushes: 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeLatencyStats(tt.in)
			if diff := cmp.Diff(tt.want, *got); diff != "" {
				t.Errorf("computeLatencyStats() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestComputeLatencyStatsKeepsInput(t *testing.T) {
	in := []time.Duration{3, 1, 2}
	computeLatencyStats(in)
	if diff := cmp.Diff([]time.Duration{3, 1, 2}, in); diff != "" {
		t.Errorf("input reordered (-want +got):\n%s", diff)
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	(&LatencyStats{TotalPushes: 7, Errors: 1, P50: time.Millisecond}).PrintStats(&buf)
	out := buf.String()
	for _, want := range []string{"Total Pushes:  7", "Errors:        1", "P50 (Median):  1ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestIsShared(t *testing.T) {
	if !isShared(sharedID(3)) {
		t.Errorf("%s not recognized as shared", sharedID(3))
	}
	if isShared("load-001-00003") {
		t.Error("owned id recognized as shared")
	}
}
