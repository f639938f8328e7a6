package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lifesync/lifesync/internal/engine"
	"github.com/lifesync/lifesync/internal/inbox"
	"github.com/lifesync/lifesync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull from and push to the sync server once",
	Long: `Run one sync round against the server:
  1. Pull every record and the device list
  2. Reconcile them into the local database, resolving conflicts
  3. Queue local records the server does not have
  4. Push everything queued, retrying the batch on failure

Local changes made while offline are kept in the database and are pushed
by the next sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if cfg.OfflineMode {
			fatalf("Error: sync is disabled in offline mode\n")
		}

		d, err := openDevice(modeOnce)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		defer d.close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("↻"), cfg.APIBase)
		start := time.Now()

		if err := d.start(ctx, timeout); err != nil {
			fatalf("Error contacting server: %v\n", err)
		}
		if err := d.engine.ForceSync(ctx); err != nil {
			fatalf("Error during sync: %v\n", err)
		}

		st := d.engine.Status()
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Records: %d\n", len(d.engine.Records()))
		fmt.Printf("   Pending: %d\n", st.Pending)
		fmt.Printf("   Devices: %d\n", len(st.Devices))
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Stay connected and sync continuously (foreground)",
	Long: `Keep the live channel to the sync server open and print sync activity
until interrupted.

Updates from other devices are applied as they arrive. Local changes are
pushed immediately and on every sync interval. If the channel drops, the
device reconnects after the reconnect delay.

Export files dropped into the inbox directory are imported and synced,
then moved to inbox/processed.

Example usage:
  lifesync watch
  lifesync watch --inbox ~/Downloads/lifesync`,
	Run: func(cmd *cobra.Command, args []string) {
		inboxDir, _ := cmd.Flags().GetString("inbox")
		noInbox, _ := cmd.Flags().GetBool("no-inbox")
		if inboxDir == "" {
			inboxDir = cfg.InboxDir
		}

		mode := modeLive
		if cfg.OfflineMode {
			mode = modeLocal
		}
		d, err := openDevice(mode)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		defer d.close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		d.engine.SubscribeAll(printEvent)
		if err := d.start(ctx, 0); err != nil {
			fatalf("Error starting sync: %v\n", err)
		}

		if !noInbox {
			w, err := inbox.New(inboxDir, func(path string) error {
				return importFile(ctx, d.engine, path)
			}, &inbox.Config{Debounce: 250 * time.Millisecond, Logger: logs.Logger("inbox")})
			if err != nil {
				fatalf("Error: %v\n", err)
			}
			if err := w.Start(); err != nil {
				fatalf("Error watching inbox: %v\n", err)
			}
			defer w.Stop()
			fmt.Printf("   Inbox: %s\n", inboxDir)
		}

		fmt.Printf("%s Watching as %s (%s)\n", ui.RenderAccent("▶"), cfg.DeviceID, cfg.Platform)
		fmt.Println("\nPress Ctrl+C to stop")

		<-ctx.Done()
		fmt.Println("\nStopping...")
	},
}

func importFile(ctx context.Context, e *engine.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := e.Import(ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("%s Imported %d records from %s\n", ui.RenderPass("✓"), n, path)
	return nil
}

func printEvent(ev engine.Event) {
	at := ui.RenderMuted(ev.Time.Local().Format("15:04:05"))
	switch ev.Kind {
	case engine.EventConnected:
		fmt.Printf("%s %s connected\n", at, ui.RenderPass("●"))
	case engine.EventDisconnected:
		fmt.Printf("%s %s disconnected\n", at, ui.RenderWarn("○"))
	case engine.EventSyncCompleted:
		if ev.Pushed > 0 {
			fmt.Printf("%s %s pushed %d records\n", at, ui.RenderPass("↑"), ev.Pushed)
		}
	case engine.EventSyncError:
		msg := fmt.Sprintf("%s %s %v", at, ui.RenderFail("✗"), ev.Err)
		if ev.RetryIn > 0 {
			msg += ui.RenderMuted(fmt.Sprintf(" (retry in %v)", ev.RetryIn))
		}
		fmt.Println(msg)
	case engine.EventRecordUpdated:
		fmt.Printf("%s %s %s %s\n", at, ui.RenderAccent("↓"), ev.Item.ID, ui.DescribeItem(*ev.Item))
	case engine.EventConflictResolved:
		fmt.Printf("%s %s conflict on %s settled by %s\n", at, ui.RenderAccent("⇄"), ev.Item.ID, ev.Strategy)
	case engine.EventConflictUnresolved:
		fmt.Printf("%s %s conflict on %s kept local; see 'lifesync conflicts'\n", at, ui.RenderWarn("⚠"), ev.Local.ID)
	case engine.EventEditSuperseded:
		fmt.Printf("%s %s unsent v%d of %s replaced by v%d from %s\n", at, ui.RenderWarn("⚠"),
			ev.Local.Version, ev.Local.ID, ev.Remote.Version, ev.Remote.DeviceID)
	case engine.EventConflictError:
		fmt.Printf("%s %s conflict could not be resolved: %v\n", at, ui.RenderFail("✗"), ev.Err)
	case engine.EventDevicesUpdated:
		fmt.Printf("%s %d devices\n", at, len(ev.Devices))
	case engine.EventNotification:
		fmt.Printf("%s %s %s\n", at, ui.RenderAccent("✉"), string(ev.Notification))
	}
}

func init() {
	syncCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for the server")
	watchCmd.Flags().String("inbox", "", "Directory to import export files from (default from config)")
	watchCmd.Flags().Bool("no-inbox", false, "Do not watch an inbox directory")
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}
