// Package power talks to the power metering modules on their own
// serial bus.
//
// The power bus is simpler than the Master bus: modules never send
// unsolicited frames, so the Communicator is synchronous — one mutex,
// write a command, read until its response or a deadline. Frames use
// the shared codec with a CRC-7 checksum, and every payload starts
// with the addressed module's id, which the response echoes.
//
// TimeKeeper periodically pushes the wall-clock time and the day/night
// tariff state to all configured modules, so energy counters bill to
// the correct tariff.
package power
