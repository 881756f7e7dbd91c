package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing constants.
const (
	// StartByte marks the beginning of every frame.
	StartByte = 0x7E

	// HeaderSize is the size of start marker, opcode and length field.
	HeaderSize = 4

	// Overhead is the number of non-payload bytes in a frame.
	Overhead = HeaderSize + 1

	// DefaultMaxPayloadSize bounds the payload length accepted by the
	// decoder. The largest frame on either bus is an EEPROM page read
	// (bank byte plus one 256-byte page).
	DefaultMaxPayloadSize = 512
)

// Framing errors.
var (
	// ErrFraming indicates a malformed frame (bad start marker position,
	// implausible length or checksum mismatch). The decoder recovers by
	// resynchronising; callers treat this as noise, not stream death.
	ErrFraming = errors.New("framing error")

	// ErrPayloadTooLarge indicates a command payload exceeding the
	// encodable maximum.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Command is a request to the hardware. Construct with NewCommand;
// a Command is immutable once built.
type Command struct {
	opcode          uint8
	payload         []byte
	expectsResponse bool
}

// NewCommand creates a command. The payload is copied so later mutation
// of p cannot alter the command.
func NewCommand(opcode uint8, p []byte, expectsResponse bool) Command {
	payload := make([]byte, len(p))
	copy(payload, p)
	return Command{opcode: opcode, payload: payload, expectsResponse: expectsResponse}
}

// Opcode returns the command opcode.
func (c Command) Opcode() uint8 { return c.opcode }

// Payload returns a copy of the command payload.
func (c Command) Payload() []byte {
	p := make([]byte, len(c.payload))
	copy(p, c.payload)
	return p
}

// ExpectsResponse reports whether the hardware answers this command.
func (c Command) ExpectsResponse() bool { return c.expectsResponse }

// String returns a short human-readable description.
func (c Command) String() string {
	return fmt.Sprintf("cmd(op=0x%02X len=%d)", c.opcode, len(c.payload))
}

// Response is a decoded frame received from the hardware.
// Responses are produced only by the Decoder.
type Response struct {
	// Opcode is the response opcode.
	Opcode uint8

	// Payload holds the frame payload.
	Payload []byte
}

// String returns a short human-readable description.
func (r *Response) String() string {
	return fmt.Sprintf("resp(op=0x%02X len=%d)", r.Opcode, len(r.Payload))
}

// Checksum computes a one-byte checksum over frame bytes.
type Checksum func(data []byte) byte

// Sum8 is the master bus checksum: the additive sum of all bytes
// modulo 256.
func Sum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// CRC7 is the power bus checksum: CRC-7 with polynomial 0x89, returned
// left-aligned in the low seven bits.
func CRC7(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x12 // 0x89 << 1, truncated to a byte
			} else {
				crc <<= 1
			}
		}
	}
	return crc >> 1
}

// Encode serialises a command into a complete frame using the given
// checksum function.
func Encode(cmd Command, sum Checksum) ([]byte, error) {
	if len(cmd.payload) > DefaultMaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(cmd.payload), DefaultMaxPayloadSize)
	}

	buf := make([]byte, 0, Overhead+len(cmd.payload))
	buf = append(buf, StartByte, cmd.opcode)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(cmd.payload)))
	buf = append(buf, cmd.payload...)
	buf = append(buf, sum(buf))
	return buf, nil
}

// EncodedSize returns the full frame size for a payload length.
func EncodedSize(payloadLen int) int {
	return Overhead + payloadLen
}
