package connection

import (
	"context"
	"sync"
	"time"

	"github.com/mastergate/mastergate-go/pkg/log"
	"github.com/mastergate/mastergate-go/pkg/transport"
)

// State is the manager's view of the serial device.
type State uint8

const (
	// StateRunning indicates the device is open and serving traffic.
	StateRunning State = iota

	// StateRecovering indicates the device was lost and reopen
	// attempts are in progress.
	StateRecovering

	// StateClosed indicates the manager has been shut down.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateRecovering:
		return "RECOVERING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// OpenFunc opens the serial device and returns a fresh transport.
type OpenFunc func(ctx context.Context) (transport.Transport, error)

// Reopener is the communicator side of recovery: it receives the
// freshly opened transport and restarts its protocol engine.
// *master.Communicator satisfies it.
type Reopener interface {
	Reopen(t transport.Transport) error
}

// Manager recovers a communicator whose serial device failed: when
// notified of the loss it reopens the device with exponential backoff
// and hands the new transport to the communicator.
type Manager struct {
	open    OpenFunc
	target  Reopener
	backoff *Backoff
	logger  log.Logger

	mu            sync.Mutex
	state         State
	onRecovered   func(attempts int)
	onStateChange func(old, new State)

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	recoverCh chan struct{}
}

// NewManager creates a Manager. The device is assumed open at
// construction time; call NotifyLost when it fails. A nil backoff uses
// defaults, a nil logger disables logging.
func NewManager(open OpenFunc, target Reopener, backoff *Backoff, logger log.Logger) *Manager {
	if backoff == nil {
		backoff = NewBackoff()
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		open:      open,
		target:    target,
		backoff:   backoff,
		logger:    logger,
		state:     StateRunning,
		ctx:       ctx,
		cancel:    cancel,
		recoverCh: make(chan struct{}, 1),
	}
}

// Start launches the background recovery loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.recoverLoop()
}

// Close shuts the manager down and waits for the recovery loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateClosed)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NotifyLost tells the manager the device failed. Safe to call from
// any goroutine; repeated calls during recovery are ignored.
func (m *Manager) NotifyLost() {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateRecovering)
	m.mu.Unlock()

	select {
	case m.recoverCh <- struct{}{}:
	default:
	}
}

// OnRecovered sets a callback invoked after a successful reopen, with
// the number of attempts it took.
func (m *Manager) OnRecovered(fn func(attempts int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecovered = fn
}

// OnStateChange sets a callback for state transitions.
func (m *Manager) OnStateChange(fn func(old, new State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

func (m *Manager) setStateLocked(next State) {
	old := m.state
	m.state = next
	if m.onStateChange != nil {
		fn := m.onStateChange
		go fn(old, next)
	}
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		State:     &log.StateEvent{OldState: old.String(), NewState: next.String(), Reason: "device recovery"},
	})
}

func (m *Manager) recoverLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.recoverCh:
			m.recover()
		}
	}
}

// recover reopens the device until it succeeds or the manager closes.
func (m *Manager) recover() {
	for {
		m.mu.Lock()
		if m.state != StateRecovering {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		delay := m.backoff.Next()
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		t, err := m.open(ctx)
		cancel()
		if err != nil {
			m.logger.Log(log.Event{
				Timestamp: time.Now(),
				Layer:     log.LayerTransport,
				Error:     &log.ErrorEvent{Message: err.Error(), Context: "reopen device"},
			})
			continue
		}

		if err := m.target.Reopen(t); err != nil {
			_ = t.Close()
			m.logger.Log(log.Event{
				Timestamp: time.Now(),
				Layer:     log.LayerTransport,
				Error:     &log.ErrorEvent{Message: err.Error(), Context: "restart communicator"},
			})
			continue
		}

		attempts := m.backoff.Attempts()
		m.backoff.Reset()

		m.mu.Lock()
		if m.state == StateRecovering {
			m.setStateLocked(StateRunning)
		}
		fn := m.onRecovered
		m.mu.Unlock()
		if fn != nil {
			fn(attempts)
		}
		return
	}
}
