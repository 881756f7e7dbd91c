// Package master implements the request/response protocol engine for
// the Master, the embedded controller that owns the physical I/O.
//
// The Master firmware is single-threaded: it processes one command at a
// time and the protocol carries no correlation identifiers, so ordering
// is the only way to match responses to commands. The Communicator
// enforces this by serialising all submissions through a FIFO queue
// with exactly one command in flight on the transport at any instant.
//
// # Execution Model
//
// A reader goroutine owns the transport's receive side and feeds the
// frame decoder. Decoded frames are routed three ways:
//   - event opcodes (hardware-triggered input/output changes, module
//     initialisation) go to the event hub, never to a waiting caller
//   - any other frame answers the outstanding command, if there is one
//   - remaining frames are stale responses from timed-out commands and
//     are logged and dropped
//
// Bytes that the decoder could not attribute to any frame are kept in
// the passthrough buffer, preserving the raw side channel the hardware
// uses outside the framed protocol.
//
// # Failure Handling
//
// Timeouts and framing failures are retried by resending the identical
// command up to the configured attempt budget. A transport-level I/O
// error is fatal: it latches the communicator, fails all queued and
// future calls with ErrCommunication, and requires Reopen with a fresh
// transport to recover.
//
// # Passthrough / Maintenance
//
// Suspend stops the protocol engine and hands the caller exclusive
// ownership of the raw transport, e.g. for the Master's CLI maintenance
// mode. Resume restarts the engine. Commands submitted while suspended
// fail with ErrSuspended.
package master
