package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lifesync/lifesync/internal/engine"
	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status of this device",
	Long: `Display the sync status of this device.

Shows:
  - Whether the server is reachable (with --refresh)
  - Records per type and records still waiting to be pushed
  - Recent sync errors
  - The user's devices as last reported by the server (with --refresh)
  - Conflicts that were kept local and still need a decision`,
	Run: func(cmd *cobra.Command, args []string) {
		refresh, _ := cmd.Flags().GetBool("refresh")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		mode := modeLocal
		if refresh && !cfg.OfflineMode {
			mode = modeOnce
		}
		d, err := openDevice(mode)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		defer d.close()

		ctx := context.Background()
		if err := d.start(ctx, 10*time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
		}

		st := d.engine.Status()
		open, err := d.db.ListConflicts(ctx, true)
		if err != nil {
			fatalf("Error reading conflicts: %v\n", err)
		}
		counts := countByType(d.engine.Records())

		if jsonOutput {
			out := struct {
				Status    engine.SyncStatus       `json:"status"`
				Records   map[record.ItemType]int `json:"records"`
				Conflicts int                     `json:"openConflicts"`
			}{st, counts, len(open)}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				fatalf("Error encoding status: %v\n", err)
			}
			return
		}

		ui.PrintStatus(os.Stdout, st, time.Now())
		fmt.Printf("Device:    %s (%s)\n", cfg.DeviceID, cfg.Platform)
		fmt.Printf("Database:  %s\n", cfg.DatabasePath())
		fmt.Println()
		for _, t := range record.ItemTypes {
			fmt.Printf("  %-14s %d\n", t, counts[t])
		}
		if len(open) > 0 {
			fmt.Printf("\n%s %d unresolved conflicts; run 'lifesync conflicts'\n", ui.RenderWarn("⚠"), len(open))
		}
		fmt.Println()
	},
}

func countByType(items []record.SyncItem) map[record.ItemType]int {
	counts := make(map[record.ItemType]int, len(record.ItemTypes))
	for _, it := range items {
		if it.IsDeleted() {
			continue
		}
		counts[it.Type]++
	}
	return counts
}

func init() {
	statusCmd.Flags().Bool("refresh", false, "Pull from the server before reporting")
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}
