package master

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
	// budget. The condition is retryable at the caller's discretion.
	ErrTimeout = errors.New("communication timeout")

	// ErrCommunication indicates a fatal transport failure. All calls
	// fail with it until Reopen installs a fresh transport.
	ErrCommunication = errors.New("communication error")

	// ErrSuspended indicates the protocol engine is suspended for
	// passthrough/maintenance use of the transport.
	ErrSuspended = errors.New("protocol suspended")

	// ErrStopped indicates the communicator has been stopped.
	ErrStopped = errors.New("communicator stopped")

	// ErrNotSuspended is returned by Resume when the engine is running.
	ErrNotSuspended = errors.New("protocol not suspended")
)

// Default option values.
const (
	// DefaultTimeout is the per-attempt response timeout.
	DefaultTimeout = 500 * time.Millisecond

	// DefaultAttempts is the total number of sends per Execute call.
	DefaultAttempts = 3

	// DefaultEventBuffer is the per-subscriber event buffer size.
	DefaultEventBuffer = 32

	// readPoll is how long the reader blocks per transport read; it
	// bounds how quickly the reader notices stop and suspend requests.
	readPoll = 50 * time.Millisecond

	// passthroughBuffer is the number of raw byte chunks retained for
	// passthrough consumers before the oldest chunk is dropped.
	passthroughBuffer = 64
)

// Options configures a Communicator. The zero value uses defaults.
type Options struct {
	// Timeout is the per-attempt response timeout.
	Timeout time.Duration

	// Attempts is the total number of sends before ErrTimeout.
	Attempts int

	// EventBuffer is the per-subscriber event channel capacity.
	EventBuffer int

	// EventOpcodes overrides the set of unsolicited opcodes.
	EventOpcodes []uint8

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// Communicator is the protocol engine for the Master bus. It owns the
// transport, serialises concurrent Execute calls into a single in-flight
// command, and distributes unsolicited events.
type Communicator struct {
	opts    Options
	logger  log.Logger
	busID   string
	device  string
	isEvent map[uint8]bool

	mu        sync.Mutex
	transport transport.Transport
	decoder   *frame.Decoder
	queue     []*request
	queueSig  chan struct{}
	started   bool
	stopped   bool
	stopCh    chan struct{}
	suspended bool
	dead      bool
	deadErr   error
	deadCh    chan struct{}

	readerStop chan struct{}
	readerDone chan struct{}

	dispatchDone chan struct{}

	pmu     sync.Mutex
	pending chan result

	hub         *eventHub
	passthrough chan []byte

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

// result carries a routed response or a retryable framing failure to
// the dispatcher.
type result struct {
	resp *frame.Response
	err  error
}

// request is the single in-flight unit owned by the dispatcher.
type request struct {
	cmd     frame.Command
	encoded []byte
	suspend bool // control request: suspend instead of send

	resp *frame.Response
	err  error
	done chan struct{}
}

func (r *request) finish(resp *frame.Response, err error) {
	r.resp = resp
	r.err = err
	close(r.done)
}

// New creates a Communicator for the given transport. Call Start before
// issuing commands.
func New(t transport.Transport, opts Options) *Communicator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.EventOpcodes == nil {
		opts.EventOpcodes = DefaultEventOpcodes()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}

	isEvent := make(map[uint8]bool, len(opts.EventOpcodes))
	for _, op := range opts.EventOpcodes {
		isEvent[op] = true
	}

	device := ""
	if d, ok := t.(transport.Describer); ok {
		device = d.Info().Device
	}

	return &Communicator{
		opts:        opts,
		logger:      logger,
		busID:       uuid.New().String(),
		device:      device,
		isEvent:     isEvent,
		transport:   t,
		decoder:     frame.NewDecoder(frame.Sum8),
		queueSig:    make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		deadCh:      make(chan struct{}),
		hub:         newEventHub(opts.EventBuffer),
		passthrough: make(chan []byte, passthroughBuffer),
	}
}

// Start launches the reader and dispatcher goroutines.
func (c *Communicator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("communicator already started")
	}
	if c.stopped {
		return ErrStopped
	}
	c.started = true
	c.dispatchDone = make(chan struct{})
	c.startReaderLocked()
	go c.dispatch()
	return nil
}

// Stop halts the engine, fails queued calls with ErrStopped and closes
// all event subscriptions. The transport is left open for the owner to
// close.
func (c *Communicator) Stop() {
	c.mu.Lock()
	if c.stopped || !c.started {
		if !c.stopped {
			c.stopped = true
			close(c.stopCh)
		}
		c.mu.Unlock()
		c.hub.close()
		return
	}
	c.stopped = true
	close(c.stopCh)
	readerStop := c.readerStop
	readerDone := c.readerDone
	dispatchDone := c.dispatchDone
	c.mu.Unlock()

	if readerStop != nil {
		close(readerStop)
		<-readerDone
	}
	c.signalQueue()
	<-dispatchDone
	c.hub.close()
}

// Execute submits a command and blocks until a response arrives, the
// retry budget is exhausted (ErrTimeout), the transport fails
// (ErrCommunication) or ctx is cancelled. Concurrent calls are served
// strictly in submission order.
//
// Cancelling ctx abandons only this caller's wait: a command already on
// the wire is still processed by the Master and its late response is
// discarded as stale.
func (c *Communicator) Execute(ctx context.Context, cmd frame.Command) (*frame.Response, error) {
	encoded, err := frame.Encode(cmd, frame.Sum8)
	if err != nil {
		return nil, err
	}

	req := &request{cmd: cmd, encoded: encoded, done: make(chan struct{})}
	if err := c.enqueue(req); err != nil {
		return nil, err
	}

	select {
	case <-req.done:
		return req.resp, req.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a new event stream subscriber.
func (c *Communicator) Subscribe() *Subscription {
	return c.hub.subscribe()
}

// SendRaw writes unframed bytes to the transport (passthrough).
func (c *Communicator) SendRaw(p []byte) error {
	c.mu.Lock()
	if c.dead {
		err := c.deadErr
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrCommunication, err)
	}
	if c.suspended {
		c.mu.Unlock()
		return ErrSuspended
	}
	t := c.transport
	c.mu.Unlock()

	if err := t.Write(p); err != nil {
		c.fatal(err)
		return fmt.Errorf("%w: %v", ErrCommunication, err)
	}
	c.addBytesWritten(len(p))
	return nil
}

// ReceiveRaw returns the next chunk of bytes the decoder could not
// attribute to any frame, blocking until data arrives or ctx is done.
func (c *Communicator) ReceiveRaw(ctx context.Context) ([]byte, error) {
	select {
	case p := <-c.passthrough:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Suspend stops the protocol engine and returns the raw transport for
// exclusive use by the caller (e.g. maintenance mode). It takes effect
// after all previously submitted commands complete; commands submitted
// afterwards fail with ErrSuspended until Resume.
func (c *Communicator) Suspend(ctx context.Context) (transport.Transport, error) {
	req := &request{suspend: true, done: make(chan struct{})}
	if err := c.enqueue(req); err != nil {
		return nil, err
	}

	select {
	case <-req.done:
		if req.err != nil {
			return nil, req.err
		}
		c.mu.Lock()
		t := c.transport
		c.mu.Unlock()
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resume restarts the protocol engine after Suspend. Any bytes the
// hardware produced meanwhile are flushed so the decoder starts clean.
func (c *Communicator) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.suspended {
		return ErrNotSuspended
	}
	if c.dead {
		return fmt.Errorf("%w: %v", ErrCommunication, c.deadErr)
	}
	_ = c.transport.Flush()
	c.decoder = frame.NewDecoder(frame.Sum8)
	c.suspended = false
	if c.started && !c.stopped {
		c.startReaderLocked()
	}
	c.logState("SUSPENDED", "RUNNING", "resume")
	return nil
}

// Reopen installs a fresh transport after a fatal failure and restarts
// the engine. It is the recovery path for ErrCommunication.
func (c *Communicator) Reopen(t transport.Transport) error {
	c.mu.Lock()
	if !c.dead {
		c.mu.Unlock()
		return fmt.Errorf("transport has not failed; refusing to replace it")
	}
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	readerStop := c.readerStop
	readerDone := c.readerDone
	c.readerStop = nil
	c.mu.Unlock()

	// A fatal latched from the write path leaves the reader running on
	// the failed transport. Stop it before installing the new one, or
	// its eventual read error would latch the fresh transport dead.
	// The mutex is released here: the stale reader may be inside fatal.
	if readerStop != nil {
		close(readerStop)
		<-readerDone
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if !c.dead {
		return fmt.Errorf("transport has not failed; refusing to replace it")
	}

	c.transport = t
	c.decoder = frame.NewDecoder(frame.Sum8)
	c.dead = false
	c.deadErr = nil
	c.deadCh = make(chan struct{})
	if d, ok := t.(transport.Describer); ok {
		c.device = d.Info().Device
	}
	if c.started && !c.suspended {
		c.startReaderLocked()
	}
	c.logState("DEAD", "RUNNING", "reopen")
	return nil
}

// Failed returns a channel closed when the transport fails fatally.
// After Reopen it returns a fresh channel for the new transport.
func (c *Communicator) Failed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadCh
}

// Stats returns cumulative communication statistics.
func (c *Communicator) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// enqueue appends a request to the FIFO queue.
func (c *Communicator) enqueue(req *request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if !c.started {
		return fmt.Errorf("communicator not started")
	}
	if c.dead && !req.suspend {
		return fmt.Errorf("%w: %v", ErrCommunication, c.deadErr)
	}
	if c.suspended && !req.suspend {
		return ErrSuspended
	}
	c.queue = append(c.queue, req)
	c.signalQueue()
	return nil
}

func (c *Communicator) signalQueue() {
	select {
	case c.queueSig <- struct{}{}:
	default:
	}
}

// dispatch is the single goroutine serving the FIFO queue; it enforces
// the at-most-one-in-flight invariant.
func (c *Communicator) dispatch() {
	defer close(c.dispatchDone)

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			stopped := c.stopped
			c.mu.Unlock()
			if stopped {
				return
			}
			<-c.queueSig
			continue
		}
		req := c.queue[0]
		c.queue = c.queue[1:]
		stopped := c.stopped
		c.mu.Unlock()

		if stopped {
			req.finish(nil, ErrStopped)
			continue
		}
		if req.suspend {
			c.serveSuspend(req)
		} else {
			c.serve(req)
		}
	}
}

// serveSuspend executes the suspend control request in queue position.
func (c *Communicator) serveSuspend(req *request) {
	c.mu.Lock()
	if c.suspended {
		c.mu.Unlock()
		req.finish(nil, ErrSuspended)
		return
	}
	c.suspended = true
	readerStop := c.readerStop
	readerDone := c.readerDone
	c.readerStop = nil
	c.mu.Unlock()

	if readerStop != nil {
		close(readerStop)
		<-readerDone
	}
	c.logState("RUNNING", "SUSPENDED", "suspend")
	req.finish(nil, nil)
}

// serve sends one command with the retry policy.
func (c *Communicator) serve(req *request) {
	c.mu.Lock()
	if c.dead {
		err := c.deadErr
		c.mu.Unlock()
		req.finish(nil, fmt.Errorf("%w: %v", ErrCommunication, err))
		return
	}
	if c.suspended {
		c.mu.Unlock()
		req.finish(nil, ErrSuspended)
		return
	}
	t := c.transport
	deadCh := c.deadCh
	c.mu.Unlock()

	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		respCh := make(chan result, 1)
		if req.cmd.ExpectsResponse() {
			c.setPending(respCh)
		}

		c.logCommand(req.cmd, attempt)
		if err := t.Write(req.encoded); err != nil {
			c.clearPending()
			c.fatal(err)
			req.finish(nil, fmt.Errorf("%w: %v", ErrCommunication, err))
			return
		}
		c.addBytesWritten(len(req.encoded))

		if !req.cmd.ExpectsResponse() {
			c.markSuccess()
			req.finish(nil, nil)
			return
		}

		timer := time.NewTimer(c.opts.Timeout)
		select {
		case res := <-respCh:
			timer.Stop()
			if res.err != nil {
				// Framing failure while waiting: resend immediately.
				continue
			}
			c.markSuccess()
			req.finish(res.resp, nil)
			return
		case <-timer.C:
			c.clearPending()
			c.addTimeout()
		case <-deadCh:
			timer.Stop()
			c.clearPending()
			c.mu.Lock()
			err := c.deadErr
			c.mu.Unlock()
			req.finish(nil, fmt.Errorf("%w: %v", ErrCommunication, err))
			return
		case <-c.stopCh:
			timer.Stop()
			c.clearPending()
			req.finish(nil, ErrStopped)
			return
		}
	}

	req.finish(nil, fmt.Errorf("%w: no response after %d attempts", ErrTimeout, c.opts.Attempts))
}

// startReaderLocked launches a reader goroutine. Caller holds c.mu.
func (c *Communicator) startReaderLocked() {
	stop := make(chan struct{})
	done := make(chan struct{})
	c.readerStop = stop
	c.readerDone = done
	go c.read(c.transport, c.decoder, stop, done)
}

// read is the reader goroutine: it owns the transport's receive side.
func (c *Communicator) read(t transport.Transport, dec *frame.Decoder, stop, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 512)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := t.Read(buf, readPoll)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			c.fatal(err)
			return
		}
		if n == 0 {
			continue
		}

		c.addBytesRead(n)
		c.logger.Log(log.NewFrameEvent(c.busID, log.DirectionIn, log.LayerTransport, buf[:n]))

		dec.Feed(buf[:n])
		for {
			resp, err := dec.Next()
			if err != nil {
				c.addFramingError()
				c.logError(err, "decode")
				c.deliverFramingError(err)
				continue
			}
			if resp == nil {
				break
			}
			c.route(resp)
		}
		if skipped := dec.TakeDiscarded(); len(skipped) > 0 {
			c.pushPassthrough(skipped)
		}
	}
}

// route delivers a decoded frame to the event hub, the waiting command
// or the stale log.
func (c *Communicator) route(resp *frame.Response) {
	if c.isEvent[resp.Opcode] {
		c.logResponse(resp, true)
		c.hub.publish(Event{Opcode: resp.Opcode, Payload: resp.Payload, Time: time.Now()})
		return
	}

	if ch := c.takePending(); ch != nil {
		c.logResponse(resp, false)
		ch <- result{resp: resp}
		return
	}

	// Stale response from a timed-out command; drop it.
	c.logResponse(resp, true)
}

func (c *Communicator) setPending(ch chan result) {
	c.pmu.Lock()
	c.pending = ch
	c.pmu.Unlock()
}

func (c *Communicator) clearPending() {
	c.pmu.Lock()
	c.pending = nil
	c.pmu.Unlock()
}

func (c *Communicator) takePending() chan result {
	c.pmu.Lock()
	ch := c.pending
	c.pending = nil
	c.pmu.Unlock()
	return ch
}

func (c *Communicator) deliverFramingError(err error) {
	if ch := c.takePending(); ch != nil {
		ch <- result{err: err}
	}
}

// pushPassthrough buffers raw bytes for passthrough consumers, dropping
// the oldest chunk when the buffer is full.
func (c *Communicator) pushPassthrough(p []byte) {
	chunk := append([]byte(nil), p...)
	select {
	case c.passthrough <- chunk:
	default:
		select {
		case <-c.passthrough:
		default:
		}
		select {
		case c.passthrough <- chunk:
		default:
		}
	}
}

// fatal latches a transport failure.
func (c *Communicator) fatal(err error) {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return
	}
	c.dead = true
	c.deadErr = err
	close(c.deadCh)
	c.mu.Unlock()

	c.logState("RUNNING", "DEAD", err.Error())
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
		Layer:     log.LayerMaster,
		Device:    c.device,
		Command: &log.CommandEvent{
			Opcode:     cmd.Opcode(),
			PayloadLen: len(cmd.Payload()),
			Attempt:    attempt,
		},
	})
}

func (c *Communicator) logResponse(resp *frame.Response, unsolicited bool) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     c.busID,
		Direction: log.DirectionIn,
		Layer:     log.LayerMaster,
		Device:    c.device,
		Command: &log.CommandEvent{
			Opcode:      resp.Opcode,
			PayloadLen:  len(resp.Payload),
			Unsolicited: unsolicited,
		},
	})
}

func (c *Communicator) logState(oldState, newState, reason string) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     c.busID,
		Direction: log.DirectionIn,
		Layer:     log.LayerMaster,
		Device:    c.device,
		State:     &log.StateEvent{OldState: oldState, NewState: newState, Reason: reason},
	})
}

func (c *Communicator) logError(err error, context string) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		BusID:     c.busID,
		Direction: log.DirectionIn,
		Layer:     log.LayerFrame,
		Device:    c.device,
		Error:     &log.ErrorEvent{Message: err.Error(), Context: context},
	})
}
