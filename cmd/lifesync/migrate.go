package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lifesync/lifesync/internal/migrate"
	"github.com/lifesync/lifesync/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate <plan.yaml>",
	GroupID: "maint",
	Short:   "Migrate record payloads to a new schema version",
	Long: `Migrate every record's payload along the edges declared in a YAML plan.

Each record's schema version is read from its "_schema" payload key; records
without one are assumed to be at the plan's default_from. Migrated records
are written as new versions and synced like any edit.

Plan format:
  default_from: v1
  target: v2
  paths:
    - from: v1
      to: v2
      require: [text]         # keys the input must have
      remove: [legacy]
      rename: {text: body}
      set: {format: markdown}

Examples:
  lifesync migrate journal-v2.yaml --dry-run
  lifesync migrate journal-v2.yaml --to v3`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		to, _ := cmd.Flags().GetString("to")
		from, _ := cmd.Flags().GetString("from")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		pf, err := migrate.LoadPlanFile(args[0])
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		if to == "" {
			to = pf.Target
		}
		if from == "" {
			from = pf.DefaultFrom
		}
		if to == "" || from == "" {
			fatalf("Error: plan needs default_from and target (or pass --from and --to)\n")
		}

		m := migrate.NewManager()
		if err := pf.Register(m); err != nil {
			fatalf("Error: %v\n", err)
		}

		if dryRun {
			plan, err := m.Plan(from, to)
			if err != nil {
				fatalf("Error: %v\n", err)
			}
			fmt.Printf("%s Migration plan %s -> %s\n", ui.RenderAccent("◆"), from, to)
			for i, p := range plan {
				fmt.Printf("   %d. %s -> %s\n", i+1, p.From, p.To)
			}
			return
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

		n, err := d.engine.Migrate(ctx, m, from, to)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s some records were not migrated:\n%v\n", ui.RenderWarn("⚠"), err)
		}
		fmt.Printf("%s Migrated %d records to %s\n", ui.RenderPass("✓"), n, to)

		if n > 0 && mode == modeOnce && online {
			if err := d.engine.ForceSync(ctx); err != nil {
				fmt.Printf("%s Saved locally; push failed: %v\n", ui.RenderWarn("⚠"), err)
			}
		}
		if err != nil {
			d.close()
			fatalf("Error: migration incomplete\n")
		}
	},
}

func init() {
	migrateCmd.Flags().String("to", "", "Target schema version (default: the plan's target)")
	migrateCmd.Flags().String("from", "", "Version of records without a _schema key (default: the plan's default_from)")
	migrateCmd.Flags().Bool("dry-run", false, "Print the migration path without changing records")
	rootCmd.AddCommand(migrateCmd)
}
