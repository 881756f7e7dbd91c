// Package transport abstracts the duplex byte streams connecting the
// gateway to its hardware buses.
//
// A Transport knows nothing about framing or the command protocol; it
// moves raw bytes with a bounded read timeout. Two implementations are
// provided:
//   - Serial: a physical serial port (go.bug.st/serial)
//   - Mem: an in-memory pipe for tests
//
// Framing, checksums and retries are the communicators' responsibility.
package transport
