// Package connection recovers communicators from serial device loss.
//
// When a communicator latches a fatal transport error, the Manager
// reopens the device with exponential backoff and hands the fresh
// transport back to the communicator, which resumes the protocol.
package connection
