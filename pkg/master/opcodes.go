package master

// Command opcodes understood by the Master firmware.
const (
	// OpEepromRead requests a full 256-byte EEPROM bank.
	// Payload: bank. Response payload: bank followed by 256 data bytes.
	OpEepromRead uint8 = 0x45

	// OpEepromWrite writes up to WriteBatchSize bytes within one bank.
	// Payload: bank, offset, data. Response echoes the written range.
	OpEepromWrite uint8 = 0x57

	// OpEepromActivate tells the Master to reload its configuration
	// from EEPROM after writes. Payload: one zero byte.
	OpEepromActivate uint8 = 0x41

	// OpStatus reads the Master's clock, mode and firmware version.
	OpStatus uint8 = 0x53

	// OpSetClock sets the Master's wall clock.
	// Payload: hours, minutes, seconds, weekday, day, month, year-2000.
	OpSetClock uint8 = 0x43

	// OpGetClock reads the Master's wall clock. Response payload has
	// the OpSetClock layout.
	OpGetClock uint8 = 0x63

	// OpBasicAction triggers a basic action (lights, outputs).
	// Payload: action type, action number.
	OpBasicAction uint8 = 0x42
)

// Unsolicited event opcodes. Frames with these opcodes are never
// treated as command responses.
const (
	// OpInputChange reports a hardware-triggered input change.
	// Payload: input number, status.
	OpInputChange uint8 = 0x49

	// OpOutputChange reports an output state change.
	// Payload: output number, status, dimmer value.
	OpOutputChange uint8 = 0x4F

	// OpModuleInit reports module (re)initialisation. The Master sends
	// it after its configuration changed; consumers should invalidate
	// cached EEPROM state.
	OpModuleInit uint8 = 0x4D
)

// DefaultEventOpcodes is the default set of unsolicited opcodes.
func DefaultEventOpcodes() []uint8 {
	return []uint8{OpInputChange, OpOutputChange, OpModuleInit}
}
