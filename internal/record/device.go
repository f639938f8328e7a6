package record

import "time"

// DeviceStatus is the per-device sync state reported by the server.
type DeviceStatus string

const (
	DeviceSynced  DeviceStatus = "synced"
	DeviceSyncing DeviceStatus = "syncing"
	DevicePending DeviceStatus = "pending"
	DeviceError   DeviceStatus = "error"
)

// DeviceInfo describes one of the user's devices as last broadcast by the server.
type DeviceInfo struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Platform Platform     `json:"platform"`
	LastSeen time.Time    `json:"lastSeen"`
	Status   DeviceStatus `json:"status"`
}
