package log

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeEvent(t *testing.T) {
	event := Event{
		Timestamp: time.Now().Truncate(time.Millisecond),
		BusID:     "bus-1",
		Direction: DirectionOut,
		Layer:     LayerMaster,
		Device:    "/dev/ttyO5",
		Command: &CommandEvent{
			Opcode:     0x45,
			PayloadLen: 1,
			Attempt:    2,
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if got.BusID != event.BusID {
		t.Errorf("BusID = %q, want %q", got.BusID, event.BusID)
	}
	if got.Direction != DirectionOut {
		t.Errorf("Direction = %v, want OUT", got.Direction)
	}
	if got.Layer != LayerMaster {
		t.Errorf("Layer = %v, want MASTER", got.Layer)
	}
	if got.Command == nil {
		t.Fatal("Command event missing after round-trip")
	}
	if got.Command.Opcode != 0x45 || got.Command.Attempt != 2 {
		t.Errorf("Command = %+v, want opcode 0x45 attempt 2", got.Command)
	}
	if got.Frame != nil || got.State != nil || got.Error != nil {
		t.Error("unexpected event payloads set after round-trip")
	}
}

func TestNewFrameEventTruncation(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, MaxFrameDataSize+100)
	event := NewFrameEvent("bus-1", DirectionIn, LayerTransport, data)

	if event.Frame == nil {
		t.Fatal("expected frame event")
	}
	if event.Frame.Size != len(data) {
		t.Errorf("Size = %d, want %d", event.Frame.Size, len(data))
	}
	if len(event.Frame.Data) != MaxFrameDataSize {
		t.Errorf("Data length = %d, want %d", len(event.Frame.Data), MaxFrameDataSize)
	}
	if !event.Frame.Truncated {
		t.Error("Truncated = false, want true")
	}
}

func TestDecoderStream(t *testing.T) {
	buf := new(bytes.Buffer)
	enc := NewEncoder(buf)

	for i := 0; i < 3; i++ {
		event := NewFrameEvent("bus-1", DirectionIn, LayerTransport, []byte{byte(i)})
		if err := enc.Encode(event); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	dec := NewDecoder(buf)
	for i := 0; i < 3; i++ {
		var event Event
		if err := dec.Decode(&event); err != nil {
			t.Fatalf("Decode %d failed: %v", i, err)
		}
		if event.Frame == nil || event.Frame.Data[0] != byte(i) {
			t.Errorf("event %d: unexpected frame payload %+v", i, event.Frame)
		}
	}
}
