package frame

import (
	"encoding/binary"
	"fmt"
)

// Decoder incrementally parses frames out of a byte stream.
//
// Feed appends raw bytes; Next extracts at most one complete frame per
// call. Bytes that cannot belong to any frame (noise before a start
// marker, or bytes dropped while resynchronising after a corrupt frame)
// accumulate until collected with TakeDiscarded.
//
// Decoder is not safe for concurrent use; the communicator's reader
// goroutine is its only caller.
type Decoder struct {
	sum        Checksum
	maxPayload int
	buf        []byte
	discarded  []byte
}

// NewDecoder creates a decoder using the given checksum function.
func NewDecoder(sum Checksum) *Decoder {
	return &Decoder{sum: sum, maxPayload: DefaultMaxPayloadSize}
}

// SetMaxPayloadSize overrides the maximum accepted payload length.
func (d *Decoder) SetMaxPayloadSize(n int) {
	d.maxPayload = n
}

// Feed appends raw bytes from the transport to the decode buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of undecoded bytes held by the decoder.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next extracts the next complete frame.
//
// It returns (nil, nil) when the buffer holds no complete frame yet, a
// Response when a checksum-valid frame was parsed, and an error wrapping
// ErrFraming exactly once per corrupt frame. After a framing error the
// decoder has already resynchronised; calling Next again continues with
// the remaining bytes.
func (d *Decoder) Next() (*Response, error) {
	for {
		d.skipToStart()

		if len(d.buf) < HeaderSize {
			return nil, nil
		}

		payloadLen := int(binary.LittleEndian.Uint16(d.buf[2:4]))
		if payloadLen > d.maxPayload {
			d.dropByte()
			return nil, fmt.Errorf("%w: implausible length %d", ErrFraming, payloadLen)
		}

		total := EncodedSize(payloadLen)
		if len(d.buf) < total {
			return nil, nil
		}

		if d.sum(d.buf[:total-1]) != d.buf[total-1] {
			d.dropByte()
			return nil, fmt.Errorf("%w: checksum mismatch", ErrFraming)
		}

		resp := &Response{
			Opcode:  d.buf[1],
			Payload: append([]byte(nil), d.buf[HeaderSize:total-1]...),
		}
		d.buf = d.buf[total:]
		return resp, nil
	}
}

// TakeDiscarded returns the bytes skipped since the last call and
// resets the discard buffer. These are the raw bytes that did not
// belong to any frame.
func (d *Decoder) TakeDiscarded() []byte {
	p := d.discarded
	d.discarded = nil
	return p
}

// skipToStart drops leading bytes up to the next start marker.
func (d *Decoder) skipToStart() {
	i := 0
	for i < len(d.buf) && d.buf[i] != StartByte {
		i++
	}
	if i > 0 {
		d.discarded = append(d.discarded, d.buf[:i]...)
		d.buf = d.buf[i:]
	}
}

// dropByte discards the current start byte so the scan resumes one
// position further on.
func (d *Decoder) dropByte() {
	d.discarded = append(d.discarded, d.buf[0])
	d.buf = d.buf[1:]
}
