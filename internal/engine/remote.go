package engine

import (
	"time"

	"github.com/lifesync/lifesync/internal/metrics"
	"github.com/lifesync/lifesync/internal/transport"
)

// handleChannelState runs on the channel goroutine and must not block.
func (e *Engine) handleChannelState(state transport.ChannelState, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}

	switch state {
	case transport.StateConnected:
		e.setOnlineLocked(true, nil)
		e.goLocked(e.initialSync)
	case transport.StateDisconnected:
		metrics.Engine.Disconnected(e.config.DeviceID)
		e.setOnlineLocked(false, err)
	}
}

// handleMessage dispatches one channel message.
func (e *Engine) handleMessage(msg transport.Message) {
	if e.isDestroyed() {
		return
	}

	switch msg.Type {
	case transport.MessageSync:
		e.reconcileRemote(e.ctx, msg.Items)
	case transport.MessageConflict:
		e.resolveMessage(e.ctx, msg.Local, msg.Remote)
	case transport.MessageDeviceUpdate:
		e.devices.Replace(msg.Devices)
		e.events.emit(Event{Kind: EventDevicesUpdated, Devices: e.devices.Snapshot()})
	case transport.MessageNotification:
		e.events.emit(Event{Kind: EventNotification, Notification: msg.Notification})
	default:
		e.logger.Printf("Warning: ignoring channel message of type %q", msg.Type)
	}
}

// initialSync pulls the authoritative state and device list, then flushes
// whatever is queued.
func (e *Engine) initialSync() {
	resp, err := e.client.Initial(e.ctx)
	if err != nil {
		if e.ctx.Err() != nil {
			return
		}
		e.logger.Printf("Initial sync failed: %v", err)
		e.recordError("initial-sync", err)
		e.events.emit(Event{Kind: EventSyncError, Err: err})
		if e.channel == nil {
			e.mu.Lock()
			e.setOnlineLocked(false, err)
			e.mu.Unlock()
		}
		e.kickFlush()
		return
	}

	e.reconcileRemote(e.ctx, resp.Items)
	e.requeueUnknown(resp.Items)
	e.devices.Replace(resp.Devices)
	e.events.emit(Event{Kind: EventDevicesUpdated, Devices: e.devices.Snapshot()})

	e.mu.Lock()
	e.lastSync = time.Now().UTC()
	e.mu.Unlock()

	e.logger.Printf("Initial sync: %d records, %d devices", len(resp.Items), len(resp.Devices))
	e.kickFlush()
}
