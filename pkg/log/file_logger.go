package log

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// flushInterval bounds how stale the trace file can be: bus traffic
// produces many small events, so writes are buffered and flushed
// periodically rather than per event.
const flushInterval = time.Second

// FileLogger writes protocol events to a trace file in CBOR format.
// Events are buffered and flushed at least once per second; Close
// flushes the remainder. It is safe for concurrent use from multiple
// goroutines.
type FileLogger struct {
	file *os.File

	mu      sync.Mutex
	buf     *bufio.Writer
	encoder *cbor.Encoder
	closed  bool

	stop chan struct{}
	done chan struct{}
}

// NewFileLogger creates a FileLogger that writes to the specified path.
// If the file exists, new events are appended. The file is created with
// permissions 0644 if it doesn't exist.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	buf := bufio.NewWriter(f)
	l := &FileLogger{
		file:    f,
		buf:     buf,
		encoder: NewEncoder(buf),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go l.flushLoop()
	return l, nil
}

// Log writes an event to the trace file.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	// Ignore encoding errors - logging should not disrupt the gateway
	_ = l.encoder.Encode(event)
}

func (l *FileLogger) flushLoop() {
	defer close(l.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			if !l.closed {
				_ = l.buf.Flush()
			}
			l.mu.Unlock()
		}
	}
}

// Close flushes buffered events and closes the trace file.
// It is safe to call Close multiple times.
// After Close is called, subsequent Log calls are silently ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	flushErr := l.buf.Flush()
	l.mu.Unlock()

	close(l.stop)
	<-l.done

	if err := l.file.Close(); err != nil {
		return err
	}
	return flushErr
}

// Compile-time interface satisfaction check.
var _ Logger = (*FileLogger)(nil)
