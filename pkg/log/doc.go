// Package log provides protocol event logging for the gateway core.
//
// Every layer of the stack (transport, frame codec, master communicator,
// EEPROM controller, power communicator) can emit structured events
// through a shared Logger interface. Applications choose how events are
// consumed:
//   - NoopLogger: discard everything (the default)
//   - FileLogger: append CBOR-encoded events to a trace file
//   - SlogAdapter: mirror events to a slog.Logger for console output
//   - MultiLogger: fan out to several loggers at once
//
// Events use CBOR integer keys so long captures of serial traffic stay
// compact. A trace file can be replayed offline to reconstruct the byte
// exchange with the hardware.
package log
