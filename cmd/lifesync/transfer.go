package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/lifesync/lifesync/internal/backup"
	"github.com/lifesync/lifesync/internal/export"
	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Export records to JSON, CSV, YAML, TOML or a text report",
	Long: `Export the records in the local database.

Only the JSON format can be imported again. With --upload the export is
also stored in the configured S3-compatible bucket under
<prefix>/<device>/<timestamp>.<ext>.

Examples:
  lifesync export > backup.json
  lifesync export --format csv --output journal.csv --type journal
  lifesync export --format report --since "last month"
  lifesync export --upload`,
	Run: func(cmd *cobra.Command, args []string) {
		formatFlag, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		typeFlag, _ := cmd.Flags().GetString("type")
		sinceFlag, _ := cmd.Flags().GetString("since")
		upload, _ := cmd.Flags().GetBool("upload")

		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		var typ record.ItemType
		if typeFlag != "" {
			if typ, err = record.ParseItemType(typeFlag); err != nil {
				fatalf("Error: %v\n", err)
			}
		}
		now := time.Now()
		since, err := parseSince(sinceFlag, now)
		if err != nil {
			fatalf("Error: %v\n", err)
		}

		d, err := openDevice(modeLocal)
		if err != nil {
			fatalf("Error: %v\n", err)
		}
		defer d.close()
		if err := d.engine.Start(context.Background()); err != nil {
			fatalf("Error: %v\n", err)
		}

		items := filterRecords(d.engine.Records(), typ, since, true)
		doc := export.NewDocument(items, cfg.UserID, cfg.DeviceID, record.Platform(cfg.Platform), now)

		var buf bytes.Buffer
		if err := export.Write(&buf, format, doc); err != nil {
			fatalf("Error: %v\n", err)
		}

		if output == "" || output == "-" {
			_, _ = os.Stdout.Write(buf.Bytes())
		} else {
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				fatalf("Error writing export: %v\n", err)
			}
			fmt.Fprintf(os.Stderr, "%s Exported %d records to %s\n", ui.RenderPass("✓"), doc.Count, output)
		}

		if upload {
			u, err := backup.New(&backup.Config{
				Endpoint:  cfg.Backup.Endpoint,
				AccessKey: cfg.Backup.AccessKey,
				SecretKey: cfg.Backup.SecretKey,
				Bucket:    cfg.Backup.Bucket,
				Prefix:    cfg.Backup.Prefix,
				Secure:    cfg.Backup.Secure,
				Region:    cfg.Backup.Region,
				Logger:    logs.Logger("backup"),
			})
			if err != nil {
				fatalf("Error: %v\n", err)
			}
			object, err := u.Upload(context.Background(), cfg.DeviceID, now, format, buf.Bytes())
			if err != nil {
				fatalf("Error: %v\n", err)
			}
			fmt.Fprintf(os.Stderr, "%s Uploaded to %s/%s\n", ui.RenderPass("✓"), cfg.Backup.Bucket, object)
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>...",
	GroupID: "data",
	Short:   "Import JSON exports",
	Long: `Import records from JSON export files.

Imported records keep their id, version and checksum and go through the
same reconciliation as local edits: newer records replace cached ones,
older ones are skipped and conflicting ones are resolved. Imported changes
are pushed to the server unless --offline is set.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
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

		var progress io.Writer
		if ui.IsTerminal(os.Stderr) && !quiet {
			progress = os.Stderr
		}

		total := 0
		for _, path := range args {
			n, err := importWithProgress(ctx, d, path, progress)
			if err != nil {
				fatalf("Error importing %s: %v\n", path, err)
			}
			fmt.Printf("%s %s: %d records changed\n", ui.RenderPass("✓"), path, n)
			total += n
		}

		if mode == modeOnce && online && total > 0 {
			if err := d.engine.ForceSync(ctx); err != nil {
				fmt.Printf("%s Imported locally; push failed: %v\n", ui.RenderWarn("⚠"), err)
				return
			}
			fmt.Printf("   Synced %d records\n", total)
		}
	},
}

// importWithProgress imports one export file. When progress is non-nil a
// byte progress bar is drawn on it.
func importWithProgress(ctx context.Context, d *device, path string, progress io.Writer) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	var r io.Reader = f
	if progress != nil {
		bar := pb.New64(info.Size()).SetTemplate(pb.Full)
		bar.Set(pb.Bytes, true)
		bar.SetWriter(progress)
		bar.Start()
		defer bar.Finish()
		r = bar.NewProxyReader(f)
	}
	return d.engine.Import(ctx, r)
}

func init() {
	exportCmd.Flags().StringP("format", "f", string(export.FormatJSON), "Format: json, csv, yaml, toml or report")
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().String("type", "", "Only records of this type")
	exportCmd.Flags().String("since", "", "Only records changed since (e.g. 2026-01-31, 72h, \"last monday\")")
	exportCmd.Flags().Bool("upload", false, "Also upload the export to the backup bucket")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
