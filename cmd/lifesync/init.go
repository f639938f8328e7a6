package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lifesync/lifesync/internal/config"
	"github.com/lifesync/lifesync/internal/record"
	"github.com/lifesync/lifesync/internal/storage/sqlite"
	"github.com/lifesync/lifesync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "maint",
	Short:   "Create this device's profile and database",
	Long: `Create the device profile (a TOML file holding the user id, a freshly
generated device id, a display name and the platform) and an empty local
database.

Examples:
  lifesync init --user alice --name "Work laptop"
  lifesync init --user alice --platform web --force`,
	Run: func(cmd *cobra.Command, args []string) {
		user := cfg.UserID
		name, _ := cmd.Flags().GetString("name")
		platform, _ := cmd.Flags().GetString("platform")
		force, _ := cmd.Flags().GetBool("force")

		if user == "" {
			fatalf("Error: --user is required\n")
		}
		if name == "" {
			name, _ = os.Hostname()
		}

		if existing, err := config.LoadProfile(cfg.Profile); err == nil && !force {
			fmt.Printf("%s Profile already exists for device %s\n", ui.RenderWarn("⚠"), existing.DeviceID)
			fmt.Printf("   Use --force to replace it\n")
			return
		} else if err != nil && !errors.Is(err, config.ErrNoProfile) && !force {
			fatalf("Error reading profile: %v\n", err)
		}

		p := config.NewProfile(user, name, record.Platform(platform))
		if err := config.WriteProfile(cfg.Profile, p); err != nil {
			fatalf("Error: %v\n", err)
		}

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			fatalf("Error creating data directory: %v\n", err)
		}
		db, err := sqlite.Open(cfg.DatabasePath())
		if err != nil {
			fatalf("Error opening database: %v\n", err)
		}
		defer db.Close()
		if err := db.InitSchema(); err != nil {
			fatalf("Error initializing schema: %v\n", err)
		}

		fmt.Printf("%s Initialized device %s\n", ui.RenderPass("✓"), p.DeviceID)
		fmt.Printf("   User: %s\n", p.UserID)
		fmt.Printf("   Name: %s\n", p.DeviceName)
		fmt.Printf("   Platform: %s\n", p.Platform)
		fmt.Printf("   Profile: %s\n", cfg.Profile)
		fmt.Printf("   Database: %s\n", cfg.DatabasePath())
	},
}

func init() {
	initCmd.Flags().String("name", "", "Device display name (default: hostname)")
	initCmd.Flags().String("platform", string(record.PlatformDesktop), "Platform tag: ios, android, web, desktop or server")
	initCmd.Flags().Bool("force", false, "Replace an existing profile")
	rootCmd.AddCommand(initCmd)
}
