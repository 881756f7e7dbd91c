package extension

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastergate/mastergate-go/pkg/eeprom"
	"github.com/mastergate/mastergate-go/pkg/frame"
	"github.com/mastergate/mastergate-go/pkg/master"
)

// fakeDevice answers EEPROM commands from an in-memory bank array.
type fakeDevice struct {
	banks [][]byte
}

func newFakeDevice(banks int) *fakeDevice {
	d := &fakeDevice{banks: make([][]byte, banks)}
	for i := range d.banks {
		d.banks[i] = bytes.Repeat([]byte{0xFF}, master.BankSize)
	}
	return d
}

func (d *fakeDevice) Execute(_ context.Context, cmd frame.Command) (*frame.Response, error) {
	p := cmd.Payload()
	switch cmd.Opcode() {
	case master.OpEepromRead:
		payload := append([]byte{p[0]}, d.banks[p[0]]...)
		return &frame.Response{Opcode: cmd.Opcode(), Payload: payload}, nil
	case master.OpEepromWrite:
		copy(d.banks[p[0]][p[1]:], p[2:])
		return &frame.Response{Opcode: cmd.Opcode(), Payload: p[:2]}, nil
	case master.OpEepromActivate:
		return &frame.Response{Opcode: cmd.Opcode()}, nil
	}
	return nil, errors.New("unexpected opcode")
}

func newTestRegistry(t *testing.T, reserved BankRange) (*Registry, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice(16)
	file := eeprom.NewFile(dev, eeprom.Geometry{Banks: 16}, nil)
	reg, err := NewRegistry(eeprom.NewController(file), reserved)
	require.NoError(t, err)
	return reg, dev
}

func TestDefineAllocatesSequentially(t *testing.T) {
	reg, _ := newTestRegistry(t, BankRange{Start: 12, Banks: 4})

	a, err := reg.Define("plugin-a.settings", []eeprom.Field{
		{Name: "interval", Offset: 0, Codec: eeprom.Word()},
		{Name: "enabled", Offset: 2, Codec: eeprom.Bool()},
	})
	require.NoError(t, err)
	assert.Equal(t, eeprom.Address{Bank: 12, Offset: 0, Length: 3}, a.Address())

	b, err := reg.Define("plugin-b.settings", []eeprom.Field{
		{Name: "name", Offset: 0, Codec: eeprom.Str(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, eeprom.Address{Bank: 12, Offset: 3, Length: 10}, b.Address())
}

func TestDefineRejectsDuplicateName(t *testing.T) {
	reg, _ := newTestRegistry(t, BankRange{Start: 12, Banks: 4})

	_, err := reg.Define("plugin-a.settings", []eeprom.Field{
		{Name: "v", Offset: 0, Codec: eeprom.Byte()},
	})
	require.NoError(t, err)

	_, err = reg.Define("plugin-a.settings", []eeprom.Field{
		{Name: "other", Offset: 0, Codec: eeprom.Byte()},
	})
	assert.ErrorIs(t, err, ErrCollision)
}

func TestDefineRejectsExhaustedReserve(t *testing.T) {
	reg, _ := newTestRegistry(t, BankRange{Start: 15, Banks: 1})

	_, err := reg.Define("big", []eeprom.Field{
		{Name: "blob", Offset: 0, Codec: eeprom.Str(200)},
	})
	require.NoError(t, err)

	_, err = reg.Define("too-big", []eeprom.Field{
		{Name: "blob", Offset: 0, Codec: eeprom.Str(100)},
	})
	assert.ErrorIs(t, err, ErrCollision)

	// A smaller record still fits after the failed registration.
	_, err = reg.Define("small", []eeprom.Field{
		{Name: "v", Offset: 0, Codec: eeprom.Byte()},
	})
	assert.NoError(t, err)
}

func TestRegistryRejectsRangeOutsideDevice(t *testing.T) {
	dev := newFakeDevice(16)
	file := eeprom.NewFile(dev, eeprom.Geometry{Banks: 16}, nil)
	ctrl := eeprom.NewController(file)

	_, err := NewRegistry(ctrl, BankRange{Start: 14, Banks: 4})
	assert.Error(t, err)
	_, err = NewRegistry(ctrl, BankRange{Start: 0, Banks: 0})
	assert.Error(t, err)
}

func TestReadWriteByName(t *testing.T) {
	reg, dev := newTestRegistry(t, BankRange{Start: 12, Banks: 4})

	_, err := reg.Define("plugin-a.settings", []eeprom.Field{
		{Name: "interval", Offset: 0, Codec: eeprom.Word()},
		{Name: "enabled", Offset: 2, Codec: eeprom.Bool()},
	})
	require.NoError(t, err)

	err = reg.Write(context.Background(), "plugin-a.settings", eeprom.Values{
		"interval": 900,
		"enabled":  true,
	})
	require.NoError(t, err)

	got, err := reg.Read(context.Background(), "plugin-a.settings")
	require.NoError(t, err)
	assert.Equal(t, uint16(900), got["interval"])
	assert.Equal(t, true, got["enabled"])

	// Values landed in the reserved bank.
	assert.Equal(t, byte(0x84), dev.banks[12][0])
	assert.Equal(t, byte(0x03), dev.banks[12][1])

	_, err = reg.Read(context.Background(), "unknown")
	assert.Error(t, err)
	err = reg.Write(context.Background(), "unknown", nil)
	assert.Error(t, err)
}

func TestRestorePinsAllocations(t *testing.T) {
	reg, _ := newTestRegistry(t, BankRange{Start: 12, Banks: 4})

	// plugin-b was registered second during the previous run.
	err := reg.Restore(map[string]Allocation{
		"plugin-a.settings": {Bank: 12, Offset: 0, Length: 3},
		"plugin-b.settings": {Bank: 12, Offset: 3, Length: 10},
	})
	require.NoError(t, err)

	// This run, plugin-b registers first. It keeps its old address.
	b, err := reg.Define("plugin-b.settings", []eeprom.Field{
		{Name: "name", Offset: 0, Codec: eeprom.Str(10)},
	})
	require.NoError(t, err)
	assert.Equal(t, eeprom.Address{Bank: 12, Offset: 3, Length: 10}, b.Address())

	a, err := reg.Define("plugin-a.settings", []eeprom.Field{
		{Name: "interval", Offset: 0, Codec: eeprom.Word()},
		{Name: "enabled", Offset: 2, Codec: eeprom.Bool()},
	})
	require.NoError(t, err)
	assert.Equal(t, eeprom.Address{Bank: 12, Offset: 0, Length: 3}, a.Address())

	// A brand new record lands after all pinned allocations.
	c, err := reg.Define("plugin-c.settings", []eeprom.Field{
		{Name: "v", Offset: 0, Codec: eeprom.Byte()},
	})
	require.NoError(t, err)
	assert.Equal(t, eeprom.Address{Bank: 12, Offset: 13, Length: 1}, c.Address())
}

func TestRestoreRejectsChangedLayout(t *testing.T) {
	reg, _ := newTestRegistry(t, BankRange{Start: 12, Banks: 4})

	require.NoError(t, reg.Restore(map[string]Allocation{
		"plugin-a.settings": {Bank: 12, Offset: 0, Length: 3},
	}))

	// The plugin grew its record since the allocation was persisted.
	_, err := reg.Define("plugin-a.settings", []eeprom.Field{
		{Name: "name", Offset: 0, Codec: eeprom.Str(10)},
	})
	assert.ErrorIs(t, err, ErrCollision)
}

func TestRestoreRejectsOutOfRangeAllocation(t *testing.T) {
	reg, _ := newTestRegistry(t, BankRange{Start: 12, Banks: 2})

	err := reg.Restore(map[string]Allocation{
		"stray": {Bank: 11, Offset: 0, Length: 4},
	})
	assert.Error(t, err)

	err = reg.Restore(map[string]Allocation{
		"overflow": {Bank: 13, Offset: 250, Length: 10},
	})
	assert.Error(t, err)
}

func TestRestoreAfterDefineFails(t *testing.T) {
	reg, _ := newTestRegistry(t, BankRange{Start: 12, Banks: 4})

	_, err := reg.Define("first", []eeprom.Field{
		{Name: "v", Offset: 0, Codec: eeprom.Byte()},
	})
	require.NoError(t, err)

	err = reg.Restore(map[string]Allocation{
		"first": {Bank: 12, Offset: 0, Length: 1},
	})
	assert.Error(t, err)
}

func TestAllocationsRoundTrip(t *testing.T) {
	reg, _ := newTestRegistry(t, BankRange{Start: 12, Banks: 4})

	_, err := reg.Define("plugin-a.settings", []eeprom.Field{
		{Name: "interval", Offset: 0, Codec: eeprom.Word()},
	})
	require.NoError(t, err)
	_, err = reg.Define("plugin-b.settings", []eeprom.Field{
		{Name: "name", Offset: 0, Codec: eeprom.Str(10)},
	})
	require.NoError(t, err)

	allocs := reg.Allocations()
	assert.Equal(t, map[string]Allocation{
		"plugin-a.settings": {Bank: 12, Offset: 0, Length: 2},
		"plugin-b.settings": {Bank: 12, Offset: 2, Length: 10},
	}, allocs)

	// A fresh registry restored from these allocations reproduces them.
	reg2, _ := newTestRegistry(t, BankRange{Start: 12, Banks: 4})
	require.NoError(t, reg2.Restore(allocs))
	_, err = reg2.Define("plugin-b.settings", []eeprom.Field{
		{Name: "name", Offset: 0, Codec: eeprom.Str(10)},
	})
	require.NoError(t, err)
	rec, ok := reg2.Lookup("plugin-b.settings")
	require.True(t, ok)
	assert.Equal(t, eeprom.Address{Bank: 12, Offset: 2, Length: 10}, rec.Address())
}

func TestRecordsSpanIntoNextReservedBank(t *testing.T) {
	reg, _ := newTestRegistry(t, BankRange{Start: 12, Banks: 2})

	_, err := reg.Define("filler", []eeprom.Field{
		{Name: "blob", Offset: 0, Codec: eeprom.Str(250)},
	})
	require.NoError(t, err)

	rec, err := reg.Define("crosser", []eeprom.Field{
		{Name: "blob", Offset: 0, Codec: eeprom.Str(12)},
	})
	require.NoError(t, err)
	assert.Equal(t, eeprom.Address{Bank: 12, Offset: 250, Length: 12}, rec.Address())

	err = reg.Write(context.Background(), "crosser", eeprom.Values{"blob": "abcdefghijkl"})
	require.NoError(t, err)
	got, err := reg.Read(context.Background(), "crosser")
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijkl", got["blob"])

	names := reg.Names()
	assert.Equal(t, []string{"crosser", "filler"}, names)
}
