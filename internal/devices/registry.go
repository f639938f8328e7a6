// Package devices tracks the user's devices as reported by the server.
package devices

import (
	"sync"

	"github.com/lifesync/lifesync/internal/record"
)

// Registry holds the last device list broadcast by the server.
//
// The list is replaced wholesale on every update; partial updates are never
// merged and nothing is inferred locally.
type Registry struct {
	mu      sync.RWMutex
	devices []record.DeviceInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Replace swaps in a new device list.
func (r *Registry) Replace(devices []record.DeviceInfo) {
	cp := make([]record.DeviceInfo, len(devices))
	copy(cp, devices)

	r.mu.Lock()
	r.devices = cp
	r.mu.Unlock()
}

// Snapshot returns a copy of the current device list.
func (r *Registry) Snapshot() []record.DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]record.DeviceInfo, len(r.devices))
	copy(out, r.devices)
	return out
}

// Get returns the device with the given id.
func (r *Registry) Get(id string) (record.DeviceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.devices {
		if d.ID == id {
			return d, true
		}
	}
	return record.DeviceInfo{}, false
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
