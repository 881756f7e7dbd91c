package power

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mastergate/mastergate-go/pkg/frame"
	"github.com/mastergate/mastergate-go/pkg/log"
	"github.com/mastergate/mastergate-go/pkg/transport"
)

// Communicator errors.
var (
	// ErrTimeout indicates no valid response arrived within the retry
	// budget.
	ErrTimeout = errors.New("power communication timeout")

	// ErrCommunication indicates a transport-level failure.
	ErrCommunication = errors.New("power communication error")
)

// Default option values.
const (
	// DefaultTimeout is the per-attempt response timeout.
	DefaultTimeout = 500 * time.Millisecond

	// DefaultAttempts is the total number of sends per Execute call.
	DefaultAttempts = 3

	// readSlice bounds a single blocking transport read, so ctx
	// cancellation is noticed between reads.
	readSlice = 25 * time.Millisecond
)

// Options configures a Communicator. The zero value uses defaults.
type Options struct {
	Timeout  time.Duration
	Attempts int
	Logger   log.Logger
}

// Communicator serves the power bus synchronously: one command at a
// time under a mutex, write then read until the response or a
// deadline. Modules never speak unprompted, so there is no reader
// goroutine and no event stream.
type Communicator struct {
	opts   Options
	logger log.Logger
	busID  string
	device string

	mu sync.Mutex
	tr transport.Transport

	statsMu sync.Mutex
	stats   Stats
}

// Stats are cumulative communication statistics.
type Stats struct {
	BytesRead     uint64
	BytesWritten  uint64
	FramingErrors uint64
	Timeouts      uint64
	LastSuccess   time.Time
}

// NewCommunicator creates a Communicator for the given transport.
func NewCommunicator(t transport.Transport, opts Options) *Communicator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	device := ""
	if d, ok := t.(transport.Describer); ok {
		device = d.Info().Device
	}
	return &Communicator{
		opts:   opts,
		logger: logger,
		busID:  uuid.New().String(),
		device: device,
		tr:     t,
	}
}

// Execute sends one command and waits for its response. Concurrent
// calls serialize on the communicator's mutex.
func (c *Communicator) Execute(ctx context.Context, cmd frame.Command) (*frame.Response, error) {
	encoded, err := frame.Encode(cmd, frame.CRC7)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Drop any stale bytes from a previous timed-out exchange.
		if err := c.tr.Flush(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCommunication, err)
		}

		c.logCommand(cmd, attempt)
		if err := c.tr.Write(encoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCommunication, err)
		}
		c.addBytesWritten(len(encoded))

		resp, err := c.await(ctx)
		if err != nil {
			if errors.Is(err, errAttemptTimeout) {
				c.addTimeout()
				continue
			}
			return nil, err
		}
		c.markSuccess()
		return resp, nil
	}

	return nil, fmt.Errorf("%w: no response after %d attempts", ErrTimeout, c.opts.Attempts)
}

var errAttemptTimeout = errors.New("attempt timed out")

// await reads until a complete frame decodes or the attempt deadline
// passes. A framing failure consumes the attempt like a timeout.
func (c *Communicator) await(ctx context.Context) (*frame.Response, error) {
	dec := frame.NewDecoder(frame.CRC7)
	deadline := time.Now().Add(c.opts.Timeout)
	buf := make([]byte, 256)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errAttemptTimeout
		}
		if remaining > readSlice {
			remaining = readSlice
		}

		n, err := c.tr.Read(buf, remaining)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCommunication, err)
		}
		if n == 0 {
			continue
		}
		c.addBytesRead(n)

		dec.Feed(buf[:n])
		for {
			resp, err := dec.Next()
			if err != nil {
				c.addFramingError()
				c.logError(err)
				return nil, errAttemptTimeout
			}
			if resp == nil {
				break
			}
			return resp, nil
		}
	}
}

// Voltage reads the module's mains voltage in volts.
func (c *Communicator) Voltage(ctx context.Context, addr uint8) (float64, error) {
	resp, err := c.Execute(ctx, readCmd(OpVoltage, addr))
	if err != nil {
		return 0, err
	}
	return parseFloat(resp, addr)
}

// Frequency reads the module's mains frequency in hertz.
func (c *Communicator) Frequency(ctx context.Context, addr uint8) (float64, error) {
	resp, err := c.Execute(ctx, readCmd(OpFrequency, addr))
	if err != nil {
		return 0, err
	}
	return parseFloat(resp, addr)
}

// Current reads the current in amps for each output.
func (c *Communicator) Current(ctx context.Context, addr uint8) ([OutputCount]float64, error) {
	resp, err := c.Execute(ctx, readCmd(OpCurrent, addr))
	if err != nil {
		return [OutputCount]float64{}, err
	}
	return parseFloats(resp, addr)
}

// Power reads the active power in watts for each output.
func (c *Communicator) Power(ctx context.Context, addr uint8) ([OutputCount]float64, error) {
	resp, err := c.Execute(ctx, readCmd(OpPower, addr))
	if err != nil {
		return [OutputCount]float64{}, err
	}
	return parseFloats(resp, addr)
}

// Energy reads the per-output energy counters, split by tariff.
func (c *Communicator) Energy(ctx context.Context, addr uint8) (Energy, error) {
	resp, err := c.Execute(ctx, readCmd(OpEnergy, addr))
	if err != nil {
		return Energy{}, err
	}
	return parseEnergy(resp, addr)
}

// SetClock sets the module's wall clock.
func (c *Communicator) SetClock(ctx context.Context, addr uint8, t time.Time) error {
	resp, err := c.Execute(ctx, setClockCmd(addr, t))
	if err != nil {
		return err
	}
	_, err = checkEcho(resp, addr, 0)
	return err
}

// SetTariff selects the module's active tariff.
func (c *Communicator) SetTariff(ctx context.Context, addr uint8, night bool) error {
	resp, err := c.Execute(ctx, setTariffCmd(addr, night))
	if err != nil {
		return err
	}
	_, err = checkEcho(resp, addr, 0)
	return err
}

// Stats returns cumulative communication statistics.
func (c *Communicator) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Communicator) markSuccess() {
	c.statsMu.Lock()
	c.stats.LastSuccess = time.Now()
	c.statsMu.Unlock()
}

func (c *Communicator) addBytesRead(n int) {
	c.statsMu.Lock()
	c.stats.BytesRead += uint64(n)
	c.statsMu.Unlock()
}

func (c *Communicator) addBytesWritten(n int) {
	c.statsMu.Lock()
	c.stats.BytesWritten += uint64(n)
	c.statsMu.Unlock()
}

func (c *Communicator) addFramingError() {
	c.statsMu.Lock()
	c.stats.FramingErrors++
	c.statsMu.Unlock()
}

func (c *Communicator) addTimeout() {
	c.statsMu.Lock()
	c.stats.Timeouts++
	c.statsMu.Unlock()
}

func (c *Communicator) logCommand(cmd frame.Command, attempt int) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     c.busID,
		Direction: log.DirectionOut,
		Layer:     log.LayerPower,
		Device:    c.device,
		Command: &log.CommandEvent{
			Opcode:     cmd.Opcode(),
			PayloadLen: len(cmd.Payload()),
			Attempt:    attempt,
		},
	})
}

func (c *Communicator) logError(err error) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     c.busID,
		Direction: log.DirectionIn,
		Layer:     log.LayerPower,
		Device:    c.device,
		Error:     &log.ErrorEvent{Message: err.Error(), Context: "decode"},
	})
}
