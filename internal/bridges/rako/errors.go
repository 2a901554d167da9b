package rako

import "errors"

// Domain errors for the RAKO bridge package.
var (
	// ErrNotConnected is returned when a request needs the hub connection
	// but none is established.
	ErrNotConnected = errors.New("rako: not connected to hub")

	// ErrConnectionFailed is returned when dialling the hub fails.
	ErrConnectionFailed = errors.New("rako: connection to hub failed")

	// ErrSendFailed is returned when writing a request to the hub fails.
	ErrSendFailed = errors.New("rako: send to hub failed")

	// ErrFrameOverflow is returned when an inbound frame exceeds the
	// assembler capacity. The stream can no longer be trusted, so the
	// connection is dropped.
	ErrFrameOverflow = errors.New("rako: frame exceeds buffer capacity")

	// ErrPeerClosed is returned when the hub closes the connection.
	ErrPeerClosed = errors.New("rako: hub closed connection")

	// ErrStatusTimeout is returned when a keepalive status request went
	// unanswered for the whole watchdog budget.
	ErrStatusTimeout = errors.New("rako: hub status timed out")

	// ErrInvalidCommand is returned when a bus command cannot be decoded
	// into a hub request.
	ErrInvalidCommand = errors.New("rako: invalid command")

	// ErrRoomOutOfRange is returned when a room index is outside 0..31.
	ErrRoomOutOfRange = errors.New("rako: room out of range")

	// ErrChannelOutOfRange is returned when a channel index is outside 0..15.
	ErrChannelOutOfRange = errors.New("rako: channel out of range")

	// ErrStopped is returned when a command arrives after Stop.
	ErrStopped = errors.New("rako: bridge stopped")

	// ErrQueueFull is returned when the command queue cannot accept more work.
	ErrQueueFull = errors.New("rako: command queue full")
)
