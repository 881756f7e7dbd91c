// Package frame implements the byte-level frame codec shared by the
// master and power buses.
//
// # Frame Layout
//
//	┌───────┬────────┬──────────────┬─────────┬──────────┐
//	│ start │ opcode │ length (LE)  │ payload │ checksum │
//	│ 1B    │ 1B     │ 2B           │ 0..n B  │ 1B       │
//	└───────┴────────┴──────────────┴─────────┴──────────┘
//
// The checksum covers every preceding byte of the frame, including the
// start marker. The master bus uses an additive sum modulo 256; the
// power bus uses CRC-7. Both are expressed as a Checksum function so
// the codec itself is bus-agnostic.
//
// # Incremental Decoding
//
// Serial reads deliver arbitrary byte chunks, so the Decoder accepts a
// growing buffer via Feed and emits complete frames from Next. On a
// length or checksum inconsistency it reports a framing error once,
// drops a single byte and rescans for the next start marker, so one
// corrupted frame never desynchronises the frames behind it. Bytes
// skipped during resynchronisation are retained and can be collected
// with TakeDiscarded; the master communicator routes them to the
// passthrough buffer.
package frame
