package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/lifesync/lifesync/internal/record"
)

// ErrNoProfile is returned by LoadProfile when the file does not exist.
var ErrNoProfile = errors.New("device profile not found")

// Profile is the identity of one device, written once by `lifesync init`.
type Profile struct {
	UserID     string `toml:"user_id"`
	DeviceID   string `toml:"device_id"`
	DeviceName string `toml:"device_name"`
	Platform   string `toml:"platform"`
}

// NewProfile creates a profile with a fresh device id.
func NewProfile(userID, name string, platform record.Platform) *Profile {
	return &Profile{
		UserID:     userID,
		DeviceID:   record.NewID(),
		DeviceName: name,
		Platform:   string(platform),
	}
}

// LoadProfile reads a TOML device profile.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoProfile, path)
		}
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	if p.DeviceID == "" {
		return nil, fmt.Errorf("profile %s has no device_id", path)
	}
	return &p, nil
}

// WriteProfile writes p to path, creating parent directories.
func WriteProfile(path string, p *Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}
