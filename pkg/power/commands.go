package power

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/mastergate/mastergate-go/pkg/frame"
)

// Command opcodes understood by the power module firmware.
const (
	// OpVoltage reads the mains voltage in volts (one float per module).
	OpVoltage uint8 = 0x56

	// OpFrequency reads the mains frequency in hertz.
	OpFrequency uint8 = 0x46

	// OpCurrent reads the current in amps, one float per output.
	OpCurrent uint8 = 0x43

	// OpPower reads the active power in watts, one float per output.
	OpPower uint8 = 0x50

	// OpEnergy reads the energy counters in watt-hours: per output one
	// day-tariff and one night-tariff counter.
	OpEnergy uint8 = 0x45

	// OpSetClock sets a module's wall clock.
	// Payload: address, hours, minutes, seconds, day, month, year-2000.
	OpSetClock uint8 = 0x54

	// OpSetTariff selects the active tariff: 0 = day, 1 = night.
	OpSetTariff uint8 = 0x4E
)

// OutputCount is the number of metered outputs per power module.
const OutputCount = 8

// Energy holds a module's energy counters in watt-hours per output,
// split by tariff.
type Energy struct {
	Day   [OutputCount]uint32
	Night [OutputCount]uint32
}

func readCmd(opcode, addr uint8) frame.Command {
	return frame.NewCommand(opcode, []byte{addr}, true)
}

func setClockCmd(addr uint8, t time.Time) frame.Command {
	payload := []byte{
		addr,
		uint8(t.Hour()),
		uint8(t.Minute()),
		uint8(t.Second()),
		uint8(t.Day()),
		uint8(t.Month()),
		uint8(t.Year() - 2000),
	}
	return frame.NewCommand(OpSetClock, payload, true)
}

func setTariffCmd(addr uint8, night bool) frame.Command {
	tariff := uint8(0)
	if night {
		tariff = 1
	}
	return frame.NewCommand(OpSetTariff, []byte{addr, tariff}, true)
}

// checkEcho validates the response address echo and data length.
func checkEcho(resp *frame.Response, addr uint8, dataLen int) ([]byte, error) {
	if len(resp.Payload) != 1+dataLen {
		return nil, fmt.Errorf("response has %d bytes, want %d", len(resp.Payload), 1+dataLen)
	}
	if resp.Payload[0] != addr {
		return nil, fmt.Errorf("response is for module %d, want %d", resp.Payload[0], addr)
	}
	return resp.Payload[1:], nil
}

func parseFloat(resp *frame.Response, addr uint8) (float64, error) {
	data, err := checkEcho(resp, addr, 4)
	if err != nil {
		return 0, err
	}
	return float64(math.Float32frombits(binary.BigEndian.Uint32(data))), nil
}

func parseFloats(resp *frame.Response, addr uint8) ([OutputCount]float64, error) {
	var out [OutputCount]float64
	data, err := checkEcho(resp, addr, 4*OutputCount)
	if err != nil {
		return out, err
	}
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(data[4*i:])))
	}
	return out, nil
}

func parseEnergy(resp *frame.Response, addr uint8) (Energy, error) {
	var e Energy
	data, err := checkEcho(resp, addr, 8*OutputCount)
	if err != nil {
		return e, err
	}
	for i := 0; i < OutputCount; i++ {
		e.Day[i] = binary.BigEndian.Uint32(data[4*i:])
		e.Night[i] = binary.BigEndian.Uint32(data[4*(OutputCount+i):])
	}
	return e, nil
}
