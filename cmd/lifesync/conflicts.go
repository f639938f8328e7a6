package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/storage/sqlite"
	"github.com/lifesync/lifesync/internal/ui"
)

const (
	takeLocal  = "local"
	takeRemote = "remote"
	takeSkip   = "skip"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "List conflicts that were kept local",
	Long: `List conflicts the resolver could not settle on its own.

When two devices write the same version of a record with identical
timestamps and the type cannot be merged, this device keeps its own copy
and logs the pair. Use 'lifesync conflicts resolve' to decide.`,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")

		d, err := openDevice(modeLocal)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		defer d.close()

		conflicts, err := d.db.ListConflicts(context.Background(), !all)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		if len(conflicts) == 0 {
			fmt.Printf("%s No open conflicts\n", ui.RenderPass("✓"))
			return
		}

		now := time.Now()
		for _, c := range conflicts {
			state := ui.RenderWarn("open")
			if c.ResolvedAt != nil {
				state = ui.RenderMuted("resolved " + ui.Ago(*c.ResolvedAt, now))
			}
			fmt.Printf("#%-4d %s  %s\n", c.ID, c.RecordID, state)
			fmt.Printf("      local:  %s\n", ui.DescribeItem(c.Local))
			fmt.Printf("      remote: %s\n", ui.DescribeItem(c.Remote))
		}
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve [conflict-id]",
	Short: "Decide open conflicts",
	Long: `Decide which side of each open conflict wins.

The chosen payload is written as a new version so it reaches every device.
Without --take, each conflict is shown and a choice is asked for.

Examples:
  lifesync conflicts resolve
  lifesync conflicts resolve 12 --take remote
  lifesync conflicts resolve --take local`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		take, _ := cmd.Flags().GetString("take")
		if take != "" && take != takeLocal && take != takeRemote {
			fatalf("Error: --take must be 'local' or 'remote'\n")
		}
		if take == "" && !ui.IsTerminal(os.Stdin) {
			fatalf("Error: --take is required when not running in a terminal\n")
		}

		var only int64
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fatalf("Error: invalid conflict id %q\n", args[0])
			}
			only = id
		}

		mode := modeOnce
		if cfg.OfflineMode {
			mode = modeLocal
		}
		d, err := openDevice(mode)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		defer d.close()

		ctx := context.Background()
		online := true
		if err := d.start(ctx, 10*time.Second); err != nil {
			online = false
			fmt.Fprintf(os.Stderr, "%s server unreachable: %v\n", ui.RenderWarn("⚠"), err)
		}

		conflicts, err := d.db.ListConflicts(ctx, true)
		if err != nil {
			fatalf("Error: %v\n", err)
		}

		resolved := 0
		for _, c := range conflicts {
			if only != 0 && c.ID != only {
				continue
			}
			choice := take
			if choice == "" {
				choice, err = askConflict(c)
				if errors.Is(err, huh.ErrUserAborted) {
					break
				}
				if err != nil {
					fatalf("Error: %v\n", err)
				}
			}
			if choice == takeSkip {
				continue
			}
			if err := settleConflict(ctx, d, c, choice); err != nil {
				fatalf("Error resolving #%d: %v\n", c.ID, err)
			}
			resolved++
		}

		fmt.Printf("%s Resolved %d conflicts\n", ui.RenderPass("✓"), resolved)
		if resolved > 0 && mode == modeOnce && online {
			if err := d.engine.ForceSync(ctx); err != nil {
				fmt.Printf("%s Saved locally; push failed: %v\n", ui.RenderWarn("⚠"), err)
			}
		}
	},
}

func askConflict(c sqlite.Conflict) (string, error) {
	choice := takeSkip
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("Conflict #%d on %s", c.ID, c.RecordID)).
				Description(fmt.Sprintf("Local:  %s\n%s\n\nRemote: %s\n%s",
					ui.DescribeItem(c.Local), payloadText(c.Local),
					ui.DescribeItem(c.Remote), payloadText(c.Remote))),
			huh.NewSelect[string]().
				Title("Keep which version?").
				Options(
					huh.NewOption("This device's copy", takeLocal),
					huh.NewOption("The other device's copy", takeRemote),
					huh.NewOption("Decide later", takeSkip),
				).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

// settleConflict writes the chosen side as a new version and closes the log
// entry. A record that moved past both sides since the conflict is left as
// it is.
func settleConflict(ctx context.Context, d *device, c sqlite.Conflict, choice string) error {
	cur, ok := d.engine.Get(c.RecordID)
	if ok && cur.Version > max(c.Local.Version, c.Remote.Version) {
		fmt.Printf("   #%d superseded by v%d\n", c.ID, cur.Version)
		return d.db.ResolveConflict(ctx, c.ID)
	}

	winner := c.Local
	if choice == takeRemote {
		winner = c.Remote
	}
	it, err := d.engine.SyncData(ctx, winner.Type, c.RecordID, record.ClonePayload(winner.Payload))
	if err != nil {
		return err
	}
	fmt.Printf("   #%d kept %s copy as v%d\n", c.ID, choice, it.Version)
	return d.db.ResolveConflict(ctx, c.ID)
}

func payloadText(it record.SyncItem) string {
	b, err := json.MarshalIndent(it.Payload, "", "  ")
	if err != nil {
		return fmt.Sprint(it.Payload)
	}
	return string(b)
}

func init() {
	conflictsCmd.Flags().Bool("all", false, "Include resolved conflicts")
	conflictsResolveCmd.Flags().String("take", "", "Resolve without asking: local or remote")
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
