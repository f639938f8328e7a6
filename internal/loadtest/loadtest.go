// Package loadtest drives many simulated devices against a sync server.
//
// Every device runs a real engine on an in-memory store and writes records
// one at a time, forcing a push after each write. Besides the records each
// device owns, all devices write to a small set of shared ids so the server
// sees version conflicts. When every device is done, the server state is
// pulled and checked.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lifesync/lifesync/internal/engine"
	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/transport"
)

// Config controls the simulated load.
type Config struct {
	// UserID all devices belong to (default: "loadtest")
	UserID string

	// Devices is the number of concurrent devices (default: 10)
	Devices int

	// RecordsPerDevice is the number of records each device owns (default: 20)
	RecordsPerDevice int

	// SharedRecords is the number of ids every device writes (default: 2)
	SharedRecords int

	// Logger for engine activity (default: discarded)
	Logger *log.Logger
}

// DefaultConfig returns a small but concurrent load.
func DefaultConfig() *Config {
	return &Config{
		UserID:           "loadtest",
		Devices:          10,
		RecordsPerDevice: 20,
		SharedRecords:    2,
	}
}

// LatencyStats captures push round-trip times.
type LatencyStats struct {
	Min         time.Duration `json:"min"`
	Max         time.Duration `json:"max"`
	Mean        time.Duration `json:"mean"`
	P50         time.Duration `json:"p50"`
	P95         time.Duration `json:"p95"`
	P99         time.Duration `json:"p99"`
	TotalPushes int           `json:"totalPushes"`
	Errors      int           `json:"errors"`
}

// Result is the outcome of one run.
type Result struct {
	Push          *LatencyStats `json:"push"`
	Elapsed       time.Duration `json:"elapsed"`
	ServerRecords int           `json:"serverRecords"`
	// Expected is the number of distinct ids written.
	Expected int `json:"expected"`
	// Mismatched counts owned records whose server copy differs from the
	// owning device's copy, plus records failing checksum verification.
	Mismatched int `json:"mismatched"`
	// SharedVersions is the final server version of each shared id.
	SharedVersions map[string]int64 `json:"sharedVersions"`
}

// OK reports whether the server ended up with every record intact.
func (r *Result) OK() bool {
	return r.ServerRecords == r.Expected && r.Mismatched == 0 && r.Push.Errors == 0
}

func (c *Config) withDefaults() (*Config, error) {
	cfg := *c
	d := DefaultConfig()
	if cfg.UserID == "" {
		cfg.UserID = d.UserID
	}
	if cfg.Devices == 0 {
		cfg.Devices = d.Devices
	}
	if cfg.RecordsPerDevice == 0 {
		cfg.RecordsPerDevice = d.RecordsPerDevice
	}
	if cfg.Devices < 0 || cfg.RecordsPerDevice < 0 || cfg.SharedRecords < 0 {
		return nil, fmt.Errorf("device and record counts cannot be negative")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &cfg, nil
}

// Run simulates the configured devices against the server at apiBase.
func Run(ctx context.Context, apiBase string, config *Config) (*Result, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	var (
		mu        sync.Mutex
		durations []time.Duration
		errCount  int
		owned     = make(map[string]record.SyncItem)
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Devices; i++ {
		deviceID := fmt.Sprintf("load-%03d", i)
		g.Go(func() error {
			d, errs, mine, err := runDevice(gctx, apiBase, cfg, deviceID)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			durations = append(durations, d...)
			errCount += errs
			for _, it := range mine {
				owned[it.ID] = it
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Push:           computeLatencyStats(durations),
		Elapsed:        time.Since(start),
		Expected:       cfg.Devices*cfg.RecordsPerDevice + cfg.SharedRecords,
		SharedVersions: make(map[string]int64),
	}
	res.Push.Errors = errCount

	verifier := transport.NewClient(apiBase, transport.Identity{
		UserID: cfg.UserID, DeviceID: "load-verify", Platform: record.PlatformServer,
	}, nil)
	initial, err := verifier.Initial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to pull server state: %w", err)
	}

	res.ServerRecords = len(initial.Items)
	for _, it := range initial.Items {
		if !it.Verify() {
			res.Mismatched++
			continue
		}
		if mine, ok := owned[it.ID]; ok && !mine.SameContent(it) {
			res.Mismatched++
		}
		if isShared(it.ID) {
			res.SharedVersions[it.ID] = it.Version
		}
	}
	return res, nil
}

// runDevice writes one device's records, pushing after each write. It
// returns the push durations, the number of failed pushes and the
// device's final copy of the records it owns.
func runDevice(ctx context.Context, apiBase string, cfg *Config, deviceID string) ([]time.Duration, int, []record.SyncItem, error) {
	e, err := engine.New(&engine.Config{
		Platform: record.PlatformDesktop,
		UserID:   cfg.UserID,
		DeviceID: deviceID,
		APIBase:  apiBase,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, 0, nil, err
	}
	defer e.Destroy()

	durations := make([]time.Duration, 0, cfg.RecordsPerDevice+cfg.SharedRecords)
	errs := 0
	push := func() error {
		t := time.Now()
		err := e.ForceSync(ctx)
		durations = append(durations, time.Since(t))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs++
		}
		return nil
	}

	ids := make([]string, 0, cfg.RecordsPerDevice)
	for j := 0; j < cfg.RecordsPerDevice; j++ {
		id := fmt.Sprintf("%s-%05d", deviceID, j)
		ids = append(ids, id)
		if _, err := e.SyncData(ctx, record.TypeJournal, id, map[string]any{
			"text": fmt.Sprintf("entry %d from %s", j, deviceID),
			"seq":  float64(j),
		}); err != nil {
			return nil, 0, nil, err
		}
		if err := push(); err != nil {
			return nil, 0, nil, err
		}
	}

	for j := 0; j < cfg.SharedRecords; j++ {
		if _, err := e.SyncData(ctx, record.TypeJournal, sharedID(j), map[string]any{
			"text":   "shared entry",
			"writer": deviceID,
		}); err != nil {
			return nil, 0, nil, err
		}
		if err := push(); err != nil {
			return nil, 0, nil, err
		}
	}

	mine := make([]record.SyncItem, 0, len(ids))
	for _, id := range ids {
		if it, ok := e.Get(id); ok {
			mine = append(mine, it)
		}
	}
	return durations, errs, mine, nil
}

func sharedID(i int) string {
	return fmt.Sprintf("shared-%03d", i)
}

func isShared(id string) bool {
	return strings.HasPrefix(id, "shared-")
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Mean:        sum / time.Duration(len(sorted)),
		P50:         sorted[len(sorted)*50/100],
		P95:         sorted[len(sorted)*95/100],
		P99:         sorted[len(sorted)*99/100],
		TotalPushes: len(sorted),
	}
}

// PrintStats writes the latency statistics.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Push Latency:\n")
	fmt.Fprintf(w, "  Total Pushes:  %d\n", s.TotalPushes)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
