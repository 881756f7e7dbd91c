package master

import (
	"bytes"
	"testing"
	"time"

	"github.com/mastergate/mastergate-go/pkg/frame"
)

func TestEepromReadCommand(t *testing.T) {
	cmd := EepromRead(42)
	if cmd.Opcode() != OpEepromRead {
		t.Fatalf("opcode = 0x%02X, want 0x%02X", cmd.Opcode(), OpEepromRead)
	}
	if !bytes.Equal(cmd.Payload(), []byte{42}) {
		t.Fatalf("payload = %v, want [42]", cmd.Payload())
	}
	if !cmd.ExpectsResponse() {
		t.Fatal("eeprom read must expect a response")
	}
}

func TestEepromWriteCommand(t *testing.T) {
	cmd, err := EepromWrite(3, 0x80, []byte{0xDE, 0xAD})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{3, 0x80, 0xDE, 0xAD}
	if !bytes.Equal(cmd.Payload(), want) {
		t.Fatalf("payload = %v, want %v", cmd.Payload(), want)
	}
}

func TestEepromWriteBatchLimits(t *testing.T) {
	if _, err := EepromWrite(0, 0, nil); err == nil {
		t.Fatal("empty batch must be rejected")
	}
	if _, err := EepromWrite(0, 0, make([]byte, WriteBatchSize+1)); err == nil {
		t.Fatal("oversized batch must be rejected")
	}
	if _, err := EepromWrite(0, 0, make([]byte, WriteBatchSize)); err != nil {
		t.Fatalf("batch of %d bytes must be accepted: %v", WriteBatchSize, err)
	}
}

func TestClockPayload(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want []byte
	}{
		{
			name: "wednesday",
			in:   time.Date(2026, 8, 26, 14, 30, 45, 0, time.Local),
			want: []byte{14, 30, 45, 3, 26, 8, 26},
		},
		{
			name: "sunday maps to 7",
			in:   time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local),
			want: []byte{0, 0, 0, 7, 23, 8, 26},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SetClock(tt.in).Payload()
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("payload = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	resp := &frame.Response{Opcode: OpGetClock, Payload: []byte{14, 30, 45, 3, 26, 8, 26}}
	got, err := ParseClock(resp)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 8, 26, 14, 30, 45, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("clock = %v, want %v", got, want)
	}

	if _, err := ParseClock(&frame.Response{Payload: []byte{1, 2, 3}}); err == nil {
		t.Fatal("short payload must be rejected")
	}
	if _, err := ParseClock(nil); err == nil {
		t.Fatal("nil response must be rejected")
	}
}

func TestParseStatus(t *testing.T) {
	resp := &frame.Response{
		Opcode:  OpStatus,
		Payload: []byte{14, 30, 45, 3, 26, 8, 26, 0x00, 3, 143, 102},
	}
	got, err := ParseStatus(resp)
	if err != nil {
		t.Fatal(err)
	}
	if got.Firmware != "3.143.102" {
		t.Fatalf("firmware = %q, want %q", got.Firmware, "3.143.102")
	}
	if got.Mode != 0 {
		t.Fatalf("mode = %d, want 0", got.Mode)
	}
	if !got.Time.Equal(time.Date(2026, 8, 26, 14, 30, 45, 0, time.Local)) {
		t.Fatalf("time = %v", got.Time)
	}

	if _, err := ParseStatus(&frame.Response{Payload: make([]byte, 10)}); err == nil {
		t.Fatal("short payload must be rejected")
	}
}
