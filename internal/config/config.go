// Package config loads lifesync settings.
//
// Settings come, in increasing precedence, from defaults, a lifesync.yaml (or
// .toml/.json) file, LIFESYNC_* environment variables and command-line
// flags bound by the CLI. The device identity can also live in a separate
// TOML profile written once per device.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lifesync/lifesync/internal/conflict"
	"github.com/lifesync/lifesync/internal/engine"
	"github.com/lifesync/lifesync/internal/record"
)

// EnvPrefix is the prefix of environment overrides, e.g. LIFESYNC_USER_ID.
const EnvPrefix = "LIFESYNC"

// File is the resolved configuration.
type File struct {
	UserID     string `mapstructure:"user_id"`
	DeviceID   string `mapstructure:"device_id"`
	DeviceName string `mapstructure:"device_name"`
	Platform   string `mapstructure:"platform"`

	APIBase        string        `mapstructure:"api_base"`
	ChannelURL     string        `mapstructure:"channel_url"`
	SyncInterval   time.Duration `mapstructure:"sync_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	OfflineMode    bool          `mapstructure:"offline"`
	EncryptionKey  string        `mapstructure:"encryption_key"`
	Mergeable      []string      `mapstructure:"mergeable"`

	DataDir  string `mapstructure:"data_dir"`
	InboxDir string `mapstructure:"inbox_dir"`
	Profile  string `mapstructure:"profile"`

	Log    LogConfig    `mapstructure:"log"`
	Relay  RelayConfig  `mapstructure:"relay"`
	Backup BackupConfig `mapstructure:"backup"`
}

// LogConfig controls log output.
type LogConfig struct {
	// File, when set, receives a rotated copy of all log output.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RelayConfig controls the reference server.
type RelayConfig struct {
	Addr string `mapstructure:"addr"`
}

// BackupConfig is the object storage destination for export --upload.
type BackupConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Secure    bool   `mapstructure:"secure"`
	Region    string `mapstructure:"region"`
}

// DefaultDataDir returns ~/.lifesync, or .lifesync when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lifesync"
	}
	return filepath.Join(home, ".lifesync")
}

func setDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()
	v.SetDefault("platform", string(record.PlatformDesktop))
	v.SetDefault("api_base", "http://localhost:8080")
	v.SetDefault("channel_url", "ws://localhost:8080/ws")
	v.SetDefault("sync_interval", 30*time.Second)
	v.SetDefault("reconnect_delay", 5*time.Second)
	v.SetDefault("offline", false)
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("inbox_dir", filepath.Join(dataDir, "inbox"))
	v.SetDefault("profile", filepath.Join(dataDir, "profile.toml"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("relay.addr", ":8080")
	v.SetDefault("backup.prefix", "lifesync")
	v.SetDefault("backup.secure", true)
}

// NewViper returns a viper instance with defaults, environment binding and
// the config file read. An explicit path must exist; without one,
// lifesync.* is looked up in the working directory and the data directory,
// and a missing file is not an error.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lifesync")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*File, error) {
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads the config file at path (or the default locations).
func Load(path string) (*File, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// Validate checks values that do not depend on identity.
func (f *File) Validate() error {
	if f.SyncInterval < 0 {
		return fmt.Errorf("sync_interval cannot be negative")
	}
	if f.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect_delay cannot be negative")
	}
	for _, t := range f.Mergeable {
		if _, err := record.ParseItemType(t); err != nil {
			return fmt.Errorf("mergeable: %w", err)
		}
	}
	return nil
}

// DatabasePath is the device's sqlite file.
func (f *File) DatabasePath() string {
	return filepath.Join(f.DataDir, "lifesync.db")
}

// ApplyProfile fills identity fields not already set.
func (f *File) ApplyProfile(p *Profile) {
	if p == nil {
		return
	}
	if f.UserID == "" {
		f.UserID = p.UserID
	}
	if f.DeviceID == "" {
		f.DeviceID = p.DeviceID
	}
	if f.DeviceName == "" {
		f.DeviceName = p.DeviceName
	}
	if p.Platform != "" && (f.Platform == "" || f.Platform == string(record.PlatformDesktop)) {
		f.Platform = p.Platform
	}
}

// EngineConfig builds the engine configuration. Logger and Storage are
// left for the caller.
func (f *File) EngineConfig() *engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Platform = record.Platform(f.Platform)
	cfg.UserID = f.UserID
	cfg.DeviceID = f.DeviceID
	cfg.APIBase = f.APIBase
	cfg.ChannelURL = f.ChannelURL
	cfg.SyncInterval = f.SyncInterval
	cfg.OfflineMode = f.OfflineMode
	cfg.EncryptionKey = f.EncryptionKey
	if f.ReconnectDelay > 0 {
		cfg.ReconnectDelay = f.ReconnectDelay
	}
	if len(f.Mergeable) > 0 {
		types := make([]record.ItemType, 0, len(f.Mergeable))
		for _, t := range f.Mergeable {
			types = append(types, record.ItemType(t))
		}
		cfg.Resolver = conflict.NewResolver(types...)
	}
	return cfg
}
