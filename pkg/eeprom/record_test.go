package eeprom

import (
	"bytes"
	"testing"
)

func outputRecord(t *testing.T) Record {
	t.Helper()
	rec, err := NewRecord("output.0", 2, 10, []Field{
		{Name: "name", Offset: 0, Codec: Str(8)},
		{Name: "timer", Offset: 8, Codec: Word()},
		{Name: "floor", Offset: 10, Codec: Byte()},
		{Name: "light", Offset: 11, Codec: Bool()},
	})
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestNewRecordLayout(t *testing.T) {
	rec := outputRecord(t)
	if got := rec.Address(); got != (Address{Bank: 2, Offset: 10, Length: 12}) {
		t.Fatalf("address = %+v", got)
	}
}

func TestNewRecordRejectsBadLayouts(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
	}{
		{"gap", []Field{
			{Name: "a", Offset: 0, Codec: Byte()},
			{Name: "b", Offset: 2, Codec: Byte()},
		}},
		{"overlap", []Field{
			{Name: "a", Offset: 0, Codec: Word()},
			{Name: "b", Offset: 1, Codec: Byte()},
		}},
		{"duplicate name", []Field{
			{Name: "a", Offset: 0, Codec: Byte()},
			{Name: "a", Offset: 1, Codec: Byte()},
		}},
		{"no fields", nil},
		{"nil codec", []Field{{Name: "a", Offset: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRecord("bad", 0, 0, tt.fields); err == nil {
				t.Fatal("layout must be rejected")
			}
		})
	}
}

func TestRecordDecodeEncode(t *testing.T) {
	rec := outputRecord(t)

	raw := []byte{'h', 'a', 'l', 'l', 0xFF, 0xFF, 0xFF, 0xFF, 0x2C, 0x01, 2, 0}
	vals, err := rec.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if vals["name"] != "hall" || vals["timer"] != uint16(300) || vals["floor"] != uint8(2) || vals["light"] != true {
		t.Fatalf("decoded = %v", vals)
	}

	// Partial update: untouched fields keep their bytes.
	out, err := rec.Encode(Values{"timer": 600}, raw)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{'h', 'a', 'l', 'l', 0xFF, 0xFF, 0xFF, 0xFF, 0x58, 0x02, 2, 0}
	if !bytes.Equal(out, want) {
		t.Fatalf("encoded = %v, want %v", out, want)
	}
	if !bytes.Equal(raw, []byte{'h', 'a', 'l', 'l', 0xFF, 0xFF, 0xFF, 0xFF, 0x2C, 0x01, 2, 0}) {
		t.Fatal("encode must not mutate the current bytes")
	}
}

func TestRecordEncodeUnknownField(t *testing.T) {
	rec := outputRecord(t)
	if _, err := rec.Encode(Values{"dimmer": 1}, make([]byte, 12)); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestRecordDecodeWrongLength(t *testing.T) {
	rec := outputRecord(t)
	if _, err := rec.Decode(make([]byte, 11)); err == nil {
		t.Fatal("short buffer must be rejected")
	}
}
