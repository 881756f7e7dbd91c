package log

import (
	"time"
)

// Event represents a protocol event captured at any layer of the stack.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// BusID identifies the physical bus the event belongs to (UUID,
	// assigned when the transport is opened).
	BusID string `cbor:"2,keyasint"`

	// Direction indicates byte flow relative to the gateway.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Device is the device path of the underlying port, when known.
	Device string `cbor:"5,keyasint,omitempty"`

	// Type-specific payload (exactly one of these is set).
	Frame   *FrameEvent   `cbor:"10,keyasint,omitempty"` // raw frame bytes
	Command *CommandEvent `cbor:"11,keyasint,omitempty"` // decoded command/response
	State   *StateEvent   `cbor:"12,keyasint,omitempty"` // communicator state change
	Error   *ErrorEvent   `cbor:"13,keyasint,omitempty"` // errors at any layer
}

// Direction indicates the direction of byte flow.
type Direction uint8

const (
	// DirectionIn indicates bytes received from the hardware.
	DirectionIn Direction = 0
	// DirectionOut indicates bytes sent to the hardware.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the raw serial byte layer.
	LayerTransport Layer = 0
	// LayerFrame is the frame codec layer.
	LayerFrame Layer = 1
	// LayerMaster is the master communicator layer.
	LayerMaster Layer = 2
	// LayerEeprom is the EEPROM controller layer.
	LayerEeprom Layer = 3
	// LayerPower is the power communicator layer.
	LayerPower Layer = 4
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerFrame:
		return "FRAME"
	case LayerMaster:
		return "MASTER"
	case LayerEeprom:
		return "EEPROM"
	case LayerPower:
		return "POWER"
	default:
		return "UNKNOWN"
	}
}

// MaxFrameDataSize is the maximum frame data size to include in events.
// Larger frames are truncated to keep trace files bounded.
const MaxFrameDataSize = 1024

// FrameEvent captures raw frame bytes on the wire.
type FrameEvent struct {
	// Size is the full frame size in bytes, including markers and checksum.
	Size int `cbor:"1,keyasint"`

	// Data holds the frame bytes, possibly truncated.
	Data []byte `cbor:"2,keyasint"`

	// Truncated indicates Data was cut at MaxFrameDataSize.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// CommandEvent captures a decoded command or response.
type CommandEvent struct {
	// Opcode is the command or response opcode.
	Opcode uint8 `cbor:"1,keyasint"`

	// PayloadLen is the payload length in bytes.
	PayloadLen int `cbor:"2,keyasint"`

	// Attempt is the send attempt number (1-based), for outgoing commands.
	Attempt int `cbor:"3,keyasint,omitempty"`

	// Unsolicited marks responses not correlated to an outstanding command.
	Unsolicited bool `cbor:"4,keyasint,omitempty"`
}

// StateEvent captures a communicator state change.
type StateEvent struct {
	// OldState is the previous state name.
	OldState string `cbor:"1,keyasint"`

	// NewState is the new state name.
	NewState string `cbor:"2,keyasint"`

	// Reason optionally explains the transition.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEvent captures an error at any layer.
type ErrorEvent struct {
	// Message is the error text.
	Message string `cbor:"1,keyasint"`

	// Context optionally names the operation that failed.
	Context string `cbor:"2,keyasint,omitempty"`
}

// NewFrameEvent builds a frame event, truncating oversized data.
func NewFrameEvent(busID string, dir Direction, layer Layer, data []byte) Event {
	frameData := data
	truncated := false
	if len(data) > MaxFrameDataSize {
		frameData = data[:MaxFrameDataSize]
		truncated = true
	}
	return Event{
		Timestamp: time.Now(),
		BusID:     busID,
		Direction: dir,
		Layer:     layer,
		Frame: &FrameEvent{
			Size:      len(data),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}
