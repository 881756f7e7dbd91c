package transport

import (
	"errors"
	"time"
)

// Transport errors.
var (
	// ErrClosed indicates the transport has been closed.
	ErrClosed = errors.New("transport closed")
)

// Transport is a duplex byte stream with bounded reads.
// Implementations must be safe for one concurrent reader and one
// concurrent writer.
type Transport interface {
	// Read reads up to len(p) bytes, waiting at most timeout for the
	// first byte. It returns (0, nil) when the timeout elapses without
	// data. A non-nil error indicates a device-level failure; the
	// transport is unusable afterwards.
	Read(p []byte, timeout time.Duration) (int, error)

	// Write writes all of p or returns a device-level error.
	Write(p []byte) error

	// Flush discards unread input buffered by the device.
	Flush() error

	// Close releases the device. Blocked reads return ErrClosed.
	Close() error
}

// Info describes an open transport for logging purposes.
type Info struct {
	// Device is the device path, or a placeholder for in-memory transports.
	Device string

	// Baud is the configured baud rate, zero when not applicable.
	Baud int
}

// Describer is implemented by transports that can describe themselves.
type Describer interface {
	Info() Info
}
