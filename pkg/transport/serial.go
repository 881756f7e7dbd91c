package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Serial is a Transport backed by a physical serial port.
type Serial struct {
	port   serial.Port
	device string
	baud   int

	mu     sync.Mutex
	closed bool

	// lastTimeout avoids a syscall per read when the timeout is unchanged.
	lastTimeout time.Duration
}

// OpenSerial opens the serial device at the given baud rate with the
// byte format the master hardware expects (8N1).
func OpenSerial(device string, baud int) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}
	return &Serial{
		port:        port,
		device:      device,
		baud:        baud,
		lastTimeout: -1,
	}, nil
}

// Read reads up to len(p) bytes, waiting at most timeout for data.
func (s *Serial) Read(p []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if timeout != s.lastTimeout {
		if err := s.port.SetReadTimeout(timeout); err != nil {
			s.mu.Unlock()
			return 0, fmt.Errorf("failed to set read timeout: %w", err)
		}
		s.lastTimeout = timeout
	}
	port := s.port
	s.mu.Unlock()

	n, err := port.Read(p)
	if err != nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return 0, ErrClosed
		}
		return n, fmt.Errorf("serial read failed: %w", err)
	}
	return n, nil
}

// Write writes all of p to the port.
func (s *Serial) Write(p []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	port := s.port
	s.mu.Unlock()

	for len(p) > 0 {
		n, err := port.Write(p)
		if err != nil {
			return fmt.Errorf("serial write failed: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// Flush discards unread input buffered by the device driver.
func (s *Serial) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush input: %w", err)
	}
	return nil
}

// Close closes the port. Blocked reads return ErrClosed.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// Info describes the open port.
func (s *Serial) Info() Info {
	return Info{Device: s.device, Baud: s.baud}
}

// Compile-time interface satisfaction checks.
var (
	_ Transport = (*Serial)(nil)
	_ Describer = (*Serial)(nil)
)
