package master

import (
	"fmt"
	"time"

	"github.com/mastergate/mastergate-go/pkg/frame"
)

// BankSize is the size of one EEPROM bank on the Master.
const BankSize = 256

// WriteBatchSize is the maximum number of data bytes one EEPROM write
// command carries. The firmware rejects longer writes.
const WriteBatchSize = 10

// EepromRead builds a command reading one full EEPROM bank.
func EepromRead(bank uint8) frame.Command {
	return frame.NewCommand(OpEepromRead, []byte{bank}, true)
}

// EepromWrite builds a command writing data at offset within a bank.
// len(data) must be between 1 and WriteBatchSize.
func EepromWrite(bank, offset uint8, data []byte) (frame.Command, error) {
	if len(data) == 0 || len(data) > WriteBatchSize {
		return frame.Command{}, fmt.Errorf("eeprom write batch must be 1..%d bytes, got %d", WriteBatchSize, len(data))
	}
	payload := make([]byte, 0, 2+len(data))
	payload = append(payload, bank, offset)
	payload = append(payload, data...)
	return frame.NewCommand(OpEepromWrite, payload, true), nil
}

// EepromActivate builds the command that makes the Master reload its
// configuration from EEPROM.
func EepromActivate() frame.Command {
	return frame.NewCommand(OpEepromActivate, []byte{0x00}, true)
}

// Status builds the status request command.
func Status() frame.Command {
	return frame.NewCommand(OpStatus, nil, true)
}

// SetClock builds the command setting the Master's wall clock.
func SetClock(t time.Time) frame.Command {
	return frame.NewCommand(OpSetClock, clockPayload(t), true)
}

// GetClock builds the command reading the Master's wall clock.
func GetClock() frame.Command {
	return frame.NewCommand(OpGetClock, nil, true)
}

// BasicAction builds a basic action command.
func BasicAction(actionType, actionNumber uint8) frame.Command {
	return frame.NewCommand(OpBasicAction, []byte{actionType, actionNumber}, true)
}

// clockPayload encodes a wall-clock time in the firmware layout:
// hours, minutes, seconds, weekday (1=Monday..7=Sunday), day, month,
// years since 2000.
func clockPayload(t time.Time) []byte {
	weekday := uint8(t.Weekday())
	if weekday == 0 {
		weekday = 7 // firmware counts Sunday as 7
	}
	return []byte{
		uint8(t.Hour()),
		uint8(t.Minute()),
		uint8(t.Second()),
		weekday,
		uint8(t.Day()),
		uint8(t.Month()),
		uint8(t.Year() - 2000),
	}
}

// ParseClock decodes a clock response payload into a time.Time in the
// local time zone.
func ParseClock(resp *frame.Response) (time.Time, error) {
	if resp == nil || len(resp.Payload) < 7 {
		return time.Time{}, fmt.Errorf("clock response too short")
	}
	p := resp.Payload
	return time.Date(2000+int(p[6]), time.Month(p[5]), int(p[4]),
		int(p[0]), int(p[1]), int(p[2]), 0, time.Local), nil
}

// StatusInfo is the decoded status response.
type StatusInfo struct {
	Time     time.Time
	Mode     uint8
	Firmware string
}

// ParseStatus decodes a status response payload.
func ParseStatus(resp *frame.Response) (StatusInfo, error) {
	if resp == nil || len(resp.Payload) < 11 {
		return StatusInfo{}, fmt.Errorf("status response too short")
	}
	p := resp.Payload
	clock, err := ParseClock(&frame.Response{Opcode: resp.Opcode, Payload: p[:7]})
	if err != nil {
		return StatusInfo{}, err
	}
	return StatusInfo{
		Time:     clock,
		Mode:     p[7],
		Firmware: fmt.Sprintf("%d.%d.%d", p[8], p[9], p[10]),
	}, nil
}
