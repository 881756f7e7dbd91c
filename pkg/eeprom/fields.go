package eeprom

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// padByte fills unused bytes of variable-width fields. Erased EEPROM
// cells read as 0xFF, so padding and factory state look the same.
const padByte = 0xFF

// unsetByte marks an optional scalar as not configured.
const unsetByte = 0xFF

// Codec converts one field between its raw bytes and a Go value.
type Codec interface {
	// Width is the field's fixed size in bytes.
	Width() int

	// Decode converts raw bytes (exactly Width long) to a value.
	Decode(raw []byte) (any, error)

	// Encode converts a value to exactly Width bytes.
	Encode(v any) ([]byte, error)
}

// Byte is a single unsigned byte, decoded as uint8.
func Byte() Codec { return byteCodec{} }

// Word is a little-endian unsigned 16-bit value, decoded as uint16.
func Word() Codec { return wordCodec{} }

// Str is an n-byte 0xFF-padded string.
func Str(n int) Codec { return strCodec{n: n} }

// Temp is a temperature in half-degree steps with a 32 degree offset,
// decoded as float64. The raw value 255 means "not set" and decodes to
// nil.
func Temp() Codec { return tempCodec{} }

// Bool is an inverted boolean: the erased value 255 means false, any
// other value means true.
func Bool() Codec { return boolCodec{} }

// TimeOfDay is a time in 10-minute resolution packed into one byte
// (hour*6 + minute/10), decoded as an "hh:mm" string.
func TimeOfDay() Codec { return timeCodec{} }

// CSV is an n-byte 0xFF-padded list of byte values, decoded as a
// comma-separated string like "240,5,12".
func CSV(n int) Codec { return csvCodec{n: n} }

type byteCodec struct{}

func (byteCodec) Width() int { return 1 }

func (byteCodec) Decode(raw []byte) (any, error) {
	return raw[0], nil
}

func (byteCodec) Encode(v any) ([]byte, error) {
	b, err := toByte(v)
	if err != nil {
		return nil, err
	}
	return []byte{b}, nil
}

type wordCodec struct{}

func (wordCodec) Width() int { return 2 }

func (wordCodec) Decode(raw []byte) (any, error) {
	return binary.LittleEndian.Uint16(raw), nil
}

func (wordCodec) Encode(v any) ([]byte, error) {
	var w uint16
	switch x := v.(type) {
	case uint16:
		w = x
	case int:
		if x < 0 || x > 0xFFFF {
			return nil, fmt.Errorf("word value %d out of range", x)
		}
		w = uint16(x)
	default:
		return nil, fmt.Errorf("word field wants uint16 or int, got %T", v)
	}
	return binary.LittleEndian.AppendUint16(nil, w), nil
}

type strCodec struct{ n int }

func (c strCodec) Width() int { return c.n }

func (c strCodec) Decode(raw []byte) (any, error) {
	if i := bytes.IndexByte(raw, padByte); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}

func (c strCodec) Encode(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("string field wants string, got %T", v)
	}
	if len(s) > c.n {
		return nil, fmt.Errorf("string %q longer than field width %d", s, c.n)
	}
	out := bytes.Repeat([]byte{padByte}, c.n)
	copy(out, s)
	return out, nil
}

type tempCodec struct{}

func (tempCodec) Width() int { return 1 }

func (tempCodec) Decode(raw []byte) (any, error) {
	if raw[0] == unsetByte {
		return nil, nil
	}
	return float64(raw[0])/2 - 32, nil
}

func (tempCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return []byte{unsetByte}, nil
	}
	t, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("temperature field wants float64 or nil, got %T", v)
	}
	raw := (t + 32) * 2
	if raw < 0 || raw > 254 {
		return nil, fmt.Errorf("temperature %g out of range -32..95", t)
	}
	return []byte{uint8(raw)}, nil
}

type boolCodec struct{}

func (boolCodec) Width() int { return 1 }

func (boolCodec) Decode(raw []byte) (any, error) {
	return raw[0] != 255, nil
}

func (boolCodec) Encode(v any) ([]byte, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("bool field wants bool, got %T", v)
	}
	if b {
		return []byte{0}, nil
	}
	return []byte{255}, nil
}

type timeCodec struct{}

func (timeCodec) Width() int { return 1 }

func (timeCodec) Decode(raw []byte) (any, error) {
	v := int(raw[0])
	hour := v / 6
	minute := (v % 6) * 10
	if hour > 23 {
		hour, minute = 23, 50
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

func (timeCodec) Encode(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("time field wants \"hh:mm\" string, got %T", v)
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("time %q is not hh:mm", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return nil, fmt.Errorf("time %q has invalid hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("time %q has invalid minute", s)
	}
	return []byte{uint8(hour*6 + minute/10)}, nil
}

type csvCodec struct{ n int }

func (c csvCodec) Width() int { return c.n }

func (c csvCodec) Decode(raw []byte) (any, error) {
	var parts []string
	for _, b := range raw {
		if b == padByte {
			break
		}
		parts = append(parts, strconv.Itoa(int(b)))
	}
	return strings.Join(parts, ","), nil
}

func (c csvCodec) Encode(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("csv field wants string, got %T", v)
	}
	out := bytes.Repeat([]byte{padByte}, c.n)
	if s == "" {
		return out, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > c.n {
		return nil, fmt.Errorf("csv list of %d values longer than field width %d", len(parts), c.n)
	}
	for i, p := range parts {
		b, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || b < 0 || b > 254 {
			return nil, fmt.Errorf("csv value %q out of range 0..254", p)
		}
		out[i] = uint8(b)
	}
	return out, nil
}

func toByte(v any) (uint8, error) {
	switch x := v.(type) {
	case uint8:
		return x, nil
	case int:
		if x < 0 || x > 0xFF {
			return 0, fmt.Errorf("byte value %d out of range", x)
		}
		return uint8(x), nil
	default:
		return 0, fmt.Errorf("byte field wants uint8 or int, got %T", v)
	}
}
