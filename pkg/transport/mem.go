package transport

import (
	"sync"
	"time"
)

// Mem is an in-memory Transport used by tests and the two ends of a Pipe.
// Bytes written to one end become readable on the other.
type Mem struct {
	in   *memBuffer
	out  *memBuffer
	name string
}

// Pipe creates a connected pair of in-memory transports. Writes on one
// end are readable on the other, like the two ends of a serial cable.
func Pipe() (*Mem, *Mem) {
	a := newMemBuffer()
	b := newMemBuffer()
	return &Mem{in: a, out: b, name: "mem-a"},
		&Mem{in: b, out: a, name: "mem-b"}
}

// Read reads up to len(p) bytes, waiting at most timeout for data.
func (m *Mem) Read(p []byte, timeout time.Duration) (int, error) {
	return m.in.read(p, timeout)
}

// Write makes p readable on the peer end.
func (m *Mem) Write(p []byte) error {
	return m.out.write(p)
}

// Flush discards pending readable bytes.
func (m *Mem) Flush() error {
	return m.in.flush()
}

// Close closes both directions. Blocked reads return ErrClosed.
func (m *Mem) Close() error {
	m.in.close()
	m.out.close()
	return nil
}

// Info describes the transport.
func (m *Mem) Info() Info {
	return Info{Device: m.name}
}

// Compile-time interface satisfaction checks.
var (
	_ Transport = (*Mem)(nil)
	_ Describer = (*Mem)(nil)
)

// memBuffer is one direction of a Pipe: a byte queue with blocking reads.
type memBuffer struct {
	mu     sync.Mutex
	wake   chan struct{} // capacity 1, signalled on write and close
	data   []byte
	closed bool
}

func newMemBuffer() *memBuffer {
	return &memBuffer{wake: make(chan struct{}, 1)}
}

func (b *memBuffer) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *memBuffer) write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.data = append(b.data, p...)
	b.signal()
	return nil
}

func (b *memBuffer) read(p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)

	for {
		b.mu.Lock()
		if len(b.data) > 0 {
			n := copy(p, b.data)
			b.data = b.data[n:]
			b.mu.Unlock()
			return n, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return 0, ErrClosed
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-b.wake:
			timer.Stop()
		case <-timer.C:
			return 0, nil
		}
	}
}

func (b *memBuffer) flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.data = nil
	return nil
}

func (b *memBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.signal()
}
