package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lifesync/lifesync/internal/config"
	"github.com/lifesync/lifesync/internal/logging"
)

var (
	configPath string
	quiet      bool

	cfg  *config.File
	logs *logging.Sink
)

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"data-dir": "data_dir",
	"user":     "user_id",
	"device":   "device_id",
	"api":      "api_base",
	"channel":  "channel_url",
	"offline":  "offline",
	"log-file": "log.file",
}

var rootCmd = &cobra.Command{
	Use:   "lifesync",
	Short: "Keep personal data in sync across devices",
	Long: `lifesync keeps journal entries, contributions, life areas, settings and goal
lists consistent across a user's devices.

Each device keeps a local SQLite cache and queues its changes. When the
sync server is reachable, changes are pushed in batches and updates from
other devices arrive over a WebSocket channel. Concurrent edits are settled
by last-writer-wins, or merged for settings and goal lists.

Run 'lifesync init' once per device to create its profile.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd.Root())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "Config file (default: ./lifesync.yaml or ~/.lifesync/lifesync.yaml)")
	f.String("data-dir", "", "Directory holding the device database and profile")
	f.String("user", "", "User id (overrides the profile)")
	f.String("device", "", "Device id (overrides the profile)")
	f.String("api", "", "Sync server base URL")
	f.String("channel", "", "Sync server WebSocket URL (empty disables the live channel)")
	f.Bool("offline", false, "Never contact the sync server")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
	f.BoolVarP(&quiet, "quiet", "q", false, "Suppress log output on stderr")
}

// loadConfig reads the config file, environment and root's persistent
// flags into cfg, applies the device profile and opens the log sink.
func loadConfig(root *cobra.Command) error {
	v, err := config.NewViper(configPath)
	if err != nil {
		return err
	}
	if err := bindFlags(v, root); err != nil {
		return err
	}

	cfg, err = config.FromViper(v)
	if err != nil {
		return err
	}

	profile, err := config.LoadProfile(cfg.Profile)
	switch {
	case err == nil:
		cfg.ApplyProfile(profile)
	case !errors.Is(err, config.ErrNoProfile):
		return err
	}

	logs = logging.NewSink(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Quiet:      quiet,
	})
	return nil
}

func bindFlags(v *viper.Viper, root *cobra.Command) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, root.PersistentFlags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}

// requireIdentity exits unless the device has a user and device id.
func requireIdentity() {
	if cfg.UserID == "" || cfg.DeviceID == "" {
		fatalf("Error: no device identity\nRun 'lifesync init --user <id>' or set user_id and device_id in the config\n")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	if logs != nil {
		_ = logs.Close()
	}
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
