package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lifesync/lifesync/internal/loadtest"
	"github.com/lifesync/lifesync/internal/relay"
	"github.com/lifesync/lifesync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Simulate many devices syncing against a server",
	Long: `Run a load test of concurrent devices against a sync server.

Each simulated device writes its own records and a few shared ones, pushing
after every write. Shared records collide on the server and exercise conflict
resolution. When all devices finish, the server state is pulled and checked:
every record must be present and match its writer's copy.

Without --target an in-process relay on a random port is used.

Examples:
  # 10 devices, 20 records each, against a local relay
  lifesync bench

  # Against a running server
  lifesync bench --target http://sync.example.com --devices 50

  # Output results as JSON
  lifesync bench --json
`,
	Run:     runBench,
	GroupID: "maint",
}

func init() {
	benchCmd.Flags().Int("devices", 10, "Number of concurrent devices to simulate")
	benchCmd.Flags().Int("records", 20, "Records written by each device")
	benchCmd.Flags().Int("shared", 2, "Records written by every device")
	benchCmd.Flags().String("target", "", "Base URL of the server to test (default: in-process relay)")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) {
	devices, _ := cmd.Flags().GetInt("devices")
	records, _ := cmd.Flags().GetInt("records")
	shared, _ := cmd.Flags().GetInt("shared")
	target, _ := cmd.Flags().GetString("target")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if devices <= 0 {
		fatalf("Error: --devices must be positive\n")
	}
	if records <= 0 {
		fatalf("Error: --records must be positive\n")
	}
	if shared < 0 {
		fatalf("Error: --shared cannot be negative\n")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if target == "" {
		server := relay.NewServer(&relay.Config{
			Addr:   "127.0.0.1:0",
			Logger: log.New(io.Discard, "", 0),
		})
		if err := server.Listen(); err != nil {
			fatalf("Error: failed to start relay: %v\n", err)
		}
		relayCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- server.Run(relayCtx) }()
		defer func() {
			stop()
			<-done
		}()
		target = "http://" + server.Addr()
	}

	if !jsonOutput {
		fmt.Printf("%s Simulating %d devices x %d records (+%d shared) against %s\n\n",
			ui.RenderAccent("▶"), devices, records, shared, target)
	}

	res, err := loadtest.Run(ctx, target, &loadtest.Config{
		UserID:           "bench-" + fmt.Sprint(os.Getpid()),
		Devices:          devices,
		RecordsPerDevice: records,
		SharedRecords:    shared,
		Logger:           logs.Logger("bench"),
	})
	if err != nil {
		fatalf("Error: %v\n", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fatalf("Error: %v\n", err)
		}
	} else {
		printBench(res)
	}

	if !res.OK() {
		os.Exit(1)
	}
}

func printBench(res *loadtest.Result) {
	res.Push.PrintStats(os.Stdout)
	fmt.Println()
	fmt.Printf("Elapsed:         %v\n", res.Elapsed)
	fmt.Printf("Server records:  %d of %d\n", res.ServerRecords, res.Expected)

	ids := make([]string, 0, len(res.SharedVersions))
	for id := range res.SharedVersions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %s settled at v%d\n", id, res.SharedVersions[id])
	}
	fmt.Println()

	if res.OK() {
		fmt.Printf("%s Every record reached the server intact\n", ui.RenderPass("✓"))
		return
	}
	fmt.Printf("%s %d mismatched records, %d failed pushes\n",
		ui.RenderFail("✗"), res.Mismatched, res.Push.Errors)
}
