// Package transport moves records between a device and the sync server.
//
// Two paths share the work:
//   - Channel: a persistent WebSocket the server uses to push remote changes,
//     conflicts and device-list updates. Dropped connections are redialed
//     after a constant delay.
//   - Client: discrete HTTP requests for batch push (POST /sync) and the
//     one-time initial pull (GET /sync/initial).
//
// The two failure domains are independent: a dropped channel never touches
// the batch retry schedule and vice versa.
package transport

import (
	"encoding/json"

	"github.com/lifesync/lifesync/internal/record"
)

// MessageType identifies a server-to-client channel message.
type MessageType string

const (
	// MessageSync carries records the client should reconcile.
	MessageSync MessageType = "sync"

	// MessageConflict carries a local/remote pair the server could not order.
	MessageConflict MessageType = "conflict"

	// MessageDeviceUpdate carries the full current device list.
	MessageDeviceUpdate MessageType = "device-update"

	// MessageNotification carries an opaque message forwarded to observers.
	MessageNotification MessageType = "notification"
)

// Message is a tagged channel payload. Which fields are set depends on Type.
type Message struct {
	Type MessageType `json:"type"`

	// MessageSync
	Items []record.SyncItem `json:"items,omitempty"`

	// MessageConflict
	Local  *record.SyncItem `json:"local,omitempty"`
	Remote *record.SyncItem `json:"remote,omitempty"`

	// MessageDeviceUpdate
	Devices []record.DeviceInfo `json:"devices,omitempty"`

	// MessageNotification
	Notification json.RawMessage `json:"notification,omitempty"`
}

// PushRequest is the body of POST /sync.
type PushRequest struct {
	Items []record.SyncItem `json:"items"`
}

// PushResponse is the body returned by POST /sync.
type PushResponse struct {
	Items []record.SyncItem `json:"items,omitempty"`
}

// InitialResponse is the body returned by GET /sync/initial.
type InitialResponse struct {
	Items   []record.SyncItem   `json:"items"`
	Devices []record.DeviceInfo `json:"devices"`
}

// Identity headers sent on every request and on the channel handshake.
const (
	HeaderUserID   = "X-User-ID"
	HeaderDeviceID = "X-Device-ID"
	HeaderPlatform = "X-Platform"
)

// MaxBatch is the largest number of records sent in one POST /sync.
const MaxBatch = 50

// Identity is the already-authenticated caller of the sync API.
type Identity struct {
	UserID   string
	DeviceID string
	Platform record.Platform
}
