package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lifesync/lifesync/internal/relay"
	"github.com/lifesync/lifesync/internal/ui"
)

var relayCmd = &cobra.Command{
	Use:     "relay",
	GroupID: "server",
	Short:   "Run a sync server for development and self-hosting",
	Long: `Run the reference sync server in the foreground.

The relay keeps every user's records in memory and assigns the
authoritative version of each record. Pushes that do not advance a
record's version are answered with the record the relay holds.

Endpoints:
  POST /sync          push a batch of records
  GET  /sync/initial  all records and devices of the user
  GET  /ws            live channel (sync, device-update messages)
  GET  /health        liveness
  GET  /metrics       Prometheus metrics

Example usage:
  lifesync relay                  # listen on :8080
  lifesync relay --addr :9000`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Relay.Addr
		}

		server := relay.NewServer(&relay.Config{
			Addr:         addr,
			WriteTimeout: 5 * time.Second,
			Logger:       logs.Logger("relay"),
		})
		if err := server.Listen(); err != nil {
			fatalf("Error: failed to start relay: %v\n", err)
		}

		fmt.Printf("%s Relay listening on %s\n", ui.RenderAccent("▶"), server.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := server.Run(ctx); err != nil {
			fatalf("Error: relay stopped: %v\n", err)
		}
		fmt.Println("Relay stopped")
	},
}

func init() {
	relayCmd.Flags().String("addr", "", "Address to listen on (default from config, :8080)")
	rootCmd.AddCommand(relayCmd)
}
