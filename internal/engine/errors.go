package engine

import "errors"

var (
	// ErrDestroyed is returned by operations that need the network after
	// Destroy has been called.
	ErrDestroyed = errors.New("sync engine destroyed")

	// ErrOffline is returned by ForceSync when the engine runs in offline mode.
	ErrOffline = errors.New("sync engine is in offline mode")

	// ErrFlushStalled is returned by ForceSync when the server keeps sending
	// back records that put ours in the queue again.
	ErrFlushStalled = errors.New("sync queue is not draining")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid engine config")
)
