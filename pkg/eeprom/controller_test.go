package eeprom

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastergate/mastergate-go/pkg/frame"
	"github.com/mastergate/mastergate-go/pkg/master"
)

// fakeDevice emulates the Master's EEPROM command handling in memory.
type fakeDevice struct {
	banks [][]byte

	reads     map[int]int
	writes    []writeOp
	activates int

	failWrites bool
	failReads  bool
}

type writeOp struct {
	bank, offset int
	data         []byte
}

func newFakeDevice(banks int) *fakeDevice {
	d := &fakeDevice{
		banks: make([][]byte, banks),
		reads: make(map[int]int),
	}
	for i := range d.banks {
		d.banks[i] = bytes.Repeat([]byte{0xFF}, master.BankSize)
	}
	return d
}

var errDeviceGone = errors.New("device gone")

func (d *fakeDevice) Execute(_ context.Context, cmd frame.Command) (*frame.Response, error) {
	p := cmd.Payload()
	switch cmd.Opcode() {
	case master.OpEepromRead:
		if d.failReads {
			return nil, errDeviceGone
		}
		bank := int(p[0])
		d.reads[bank]++
		payload := append([]byte{p[0]}, d.banks[bank]...)
		return &frame.Response{Opcode: cmd.Opcode(), Payload: payload}, nil

	case master.OpEepromWrite:
		if d.failWrites {
			return nil, errDeviceGone
		}
		bank, offset, data := int(p[0]), int(p[1]), p[2:]
		copy(d.banks[bank][offset:], data)
		d.writes = append(d.writes, writeOp{bank: bank, offset: offset, data: append([]byte(nil), data...)})
		return &frame.Response{Opcode: cmd.Opcode(), Payload: p[:2]}, nil

	case master.OpEepromActivate:
		d.activates++
		return &frame.Response{Opcode: cmd.Opcode()}, nil
	}
	return nil, errors.New("unexpected opcode")
}

func newTestController(banks int) (*Controller, *fakeDevice) {
	dev := newFakeDevice(banks)
	file := NewFile(dev, Geometry{Banks: banks}, nil)
	return NewController(file), dev
}

func TestReadRecordReadsBankOnce(t *testing.T) {
	ctrl, dev := newTestController(8)

	rec, err := NewRecord("sensor.0", 2, 10, []Field{
		{Name: "temp", Offset: 0, Codec: Temp()},
		{Name: "timer", Offset: 1, Codec: Word()},
		{Name: "room", Offset: 3, Codec: Byte()},
	})
	require.NoError(t, err)

	_, err = ctrl.ReadRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.reads[2], "first read must fetch the bank")

	// Any other range in the same bank is served from the cache.
	other, err := NewRecord("sensor.1", 2, 50, []Field{
		{Name: "temp", Offset: 0, Codec: Temp()},
	})
	require.NoError(t, err)
	_, err = ctrl.ReadRecord(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.reads[2], "second read in the same bank must not touch the device")
}

func TestWriteThenReadServedFromCache(t *testing.T) {
	ctrl, dev := newTestController(8)

	rec, err := NewRecord("output.3", 1, 24, []Field{
		{Name: "name", Offset: 0, Codec: Str(8)},
		{Name: "timer", Offset: 8, Codec: Word()},
	})
	require.NoError(t, err)

	vals := Values{"name": "kitchen", "timer": 300}
	require.NoError(t, ctrl.WriteRecord(context.Background(), rec, vals))

	got, err := ctrl.ReadRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "kitchen", got["name"])
	assert.Equal(t, uint16(300), got["timer"])
	assert.Equal(t, 1, dev.reads[1], "read after write must be served from the cache")
	assert.Equal(t, 1, dev.activates)

	// Device content matches the cache.
	assert.Equal(t, byte('k'), dev.banks[1][24])
	assert.Equal(t, byte(0x2C), dev.banks[1][32])
	assert.Equal(t, byte(0x01), dev.banks[1][33])
}

func TestWriteCoalescesIntoBatches(t *testing.T) {
	ctrl, dev := newTestController(8)

	// 25 contiguous dirty bytes flush as 10+10+5.
	rec, err := NewRecord("schedule", 3, 40, []Field{
		{Name: "a", Offset: 0, Codec: Str(12)},
		{Name: "b", Offset: 12, Codec: Str(13)},
	})
	require.NoError(t, err)

	err = ctrl.WriteRecord(context.Background(), rec, Values{"a": "aaaaaaaaaaaa", "b": "bbbbbbbbbbbbb"})
	require.NoError(t, err)

	require.Len(t, dev.writes, 3)
	assert.Equal(t, writeOp{bank: 3, offset: 40, data: []byte("aaaaaaaaaa")}, dev.writes[0])
	assert.Equal(t, writeOp{bank: 3, offset: 50, data: []byte("aabbbbbbbb")}, dev.writes[1])
	assert.Equal(t, writeOp{bank: 3, offset: 60, data: []byte("bbbbb")}, dev.writes[2])
}

func TestWriteSkipsUnchangedBytes(t *testing.T) {
	ctrl, dev := newTestController(8)

	rec, err := NewRecord("input.0", 0, 0, []Field{
		{Name: "action", Offset: 0, Codec: Byte()},
	})
	require.NoError(t, err)

	require.NoError(t, ctrl.WriteRecord(context.Background(), rec, Values{"action": 7}))
	require.Len(t, dev.writes, 1)

	// Writing identical values must not produce device writes.
	require.NoError(t, ctrl.WriteRecord(context.Background(), rec, Values{"action": 7}))
	assert.Len(t, dev.writes, 1)
	assert.Equal(t, 2, dev.activates)
}

func TestWriteRollbackOnDeviceFailure(t *testing.T) {
	ctrl, dev := newTestController(8)
	copy(dev.banks[2][10:], []byte("before"))

	rec, err := NewRecord("room.name", 2, 10, []Field{
		{Name: "name", Offset: 0, Codec: Str(6)},
	})
	require.NoError(t, err)

	// Warm the cache, then make writes fail.
	got, err := ctrl.ReadRecord(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "before", got["name"])

	dev.failWrites = true
	err = ctrl.WriteRecord(context.Background(), rec, Values{"name": "after"})
	require.ErrorIs(t, err, errDeviceGone)

	// The cache must still hold the pre-write content, served without
	// re-reading the device.
	got, err = ctrl.ReadRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "before", got["name"], "failed write must roll the cache back")
	assert.Equal(t, 1, dev.reads[2])
	assert.Equal(t, []byte("before"), dev.banks[2][10:16], "device content must be untouched")
}

func TestWriteRecordSpanningBanks(t *testing.T) {
	ctrl, dev := newTestController(8)

	rec, err := NewRecord("wide", 0, 250, []Field{
		{Name: "blob", Offset: 0, Codec: Str(12)},
	})
	require.NoError(t, err)

	require.NoError(t, ctrl.WriteRecord(context.Background(), rec, Values{"blob": "abcdefghijkl"}))

	assert.Equal(t, 1, dev.reads[0])
	assert.Equal(t, 1, dev.reads[1])
	assert.Equal(t, []byte("abcdef"), dev.banks[0][250:])
	assert.Equal(t, []byte("ghijkl"), dev.banks[1][:6])

	got, err := ctrl.ReadRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijkl", got["blob"])
}

func TestWriteRecordsActivatesOnce(t *testing.T) {
	ctrl, dev := newTestController(8)

	a, err := NewRecord("a", 0, 0, []Field{{Name: "v", Offset: 0, Codec: Byte()}})
	require.NoError(t, err)
	b, err := NewRecord("b", 1, 0, []Field{{Name: "v", Offset: 0, Codec: Byte()}})
	require.NoError(t, err)

	err = ctrl.WriteRecords(context.Background(), []RecordWrite{
		{Record: a, Values: Values{"v": 1}},
		{Record: b, Values: Values{"v": 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, dev.activates)
}

func TestOverlappingWritesLastWins(t *testing.T) {
	ctrl, dev := newTestController(8)

	rec, err := NewRecord("shared", 4, 0, []Field{
		{Name: "name", Offset: 0, Codec: Str(8)},
	})
	require.NoError(t, err)

	require.NoError(t, ctrl.WriteRecord(context.Background(), rec, Values{"name": "first"}))
	require.NoError(t, ctrl.WriteRecord(context.Background(), rec, Values{"name": "second"}))

	got, err := ctrl.ReadRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "second", got["name"])
	assert.Equal(t, []byte("second"), dev.banks[4][0:6])
}

func TestInvalidateForcesReread(t *testing.T) {
	ctrl, dev := newTestController(8)

	rec, err := NewRecord("r", 5, 0, []Field{{Name: "v", Offset: 0, Codec: Byte()}})
	require.NoError(t, err)

	_, err = ctrl.ReadRecord(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, 1, dev.reads[5])

	ctrl.Invalidate(5)
	_, err = ctrl.ReadRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.reads[5])

	ctrl.InvalidateAll()
	_, err = ctrl.ReadRecord(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 3, dev.reads[5])
}

func TestInvalidAddressRejected(t *testing.T) {
	ctrl, _ := newTestController(8)

	rec, err := NewRecord("outside", 9, 0, []Field{{Name: "v", Offset: 0, Codec: Byte()}})
	require.NoError(t, err)

	_, err = ctrl.ReadRecord(context.Background(), rec)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	err = ctrl.WriteRecord(context.Background(), rec, Values{"v": 1})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestOversizedGeometryFallsBackToDefault(t *testing.T) {
	// Bank index and offset are single wire bytes; a larger geometry
	// is unaddressable and must not be accepted as declared.
	dev := newFakeDevice(8)
	file := NewFile(dev, Geometry{Banks: 8, BankSize: 512}, nil)
	assert.Equal(t, DefaultGeometry, file.Geometry())

	file = NewFile(dev, Geometry{Banks: 512, BankSize: 256}, nil)
	assert.Equal(t, DefaultGeometry, file.Geometry())

	// Offsets beyond one wire byte are rejected rather than truncated.
	_, err := file.Read(context.Background(), Address{Bank: 0, Offset: 300, Length: 4})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestReadFailurePropagates(t *testing.T) {
	ctrl, dev := newTestController(8)
	dev.failReads = true

	rec, err := NewRecord("r", 0, 0, []Field{{Name: "v", Offset: 0, Codec: Byte()}})
	require.NoError(t, err)

	_, err = ctrl.ReadRecord(context.Background(), rec)
	assert.ErrorIs(t, err, errDeviceGone)
}
