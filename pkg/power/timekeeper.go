package power

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mastergate/mastergate-go/pkg/log"
)

// Schedule defines when the night tariff applies, in minutes after
// midnight. A range crossing midnight (start > end) is valid: night
// from 22:00 to 06:00 is {1320, 360}.
type Schedule struct {
	NightStart int
	NightEnd   int
}

// ParseSchedule builds a Schedule from two "hh:mm" strings.
func ParseSchedule(nightStart, nightEnd string) (Schedule, error) {
	start, err := parseMinutes(nightStart)
	if err != nil {
		return Schedule{}, fmt.Errorf("night start: %w", err)
	}
	end, err := parseMinutes(nightEnd)
	if err != nil {
		return Schedule{}, fmt.Errorf("night end: %w", err)
	}
	return Schedule{NightStart: start, NightEnd: end}, nil
}

func parseMinutes(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%q is not hh:mm", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%q has invalid hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%q has invalid minute", s)
	}
	return hour*60 + minute, nil
}

// Night reports whether the night tariff applies at t.
func (s Schedule) Night(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if s.NightStart <= s.NightEnd {
		return m >= s.NightStart && m < s.NightEnd
	}
	return m >= s.NightStart || m < s.NightEnd
}

// ModuleBus is the part of the Communicator the TimeKeeper uses.
type ModuleBus interface {
	SetClock(ctx context.Context, addr uint8, t time.Time) error
	SetTariff(ctx context.Context, addr uint8, night bool) error
}

// DefaultSyncInterval is how often the TimeKeeper pushes time and
// tariff state to the modules.
const DefaultSyncInterval = time.Minute

// TimeKeeper keeps the power modules' clocks and tariff state in sync.
// Modules bill energy to the active tariff, so a module that reboots
// or drifts must be corrected promptly.
type TimeKeeper struct {
	bus      ModuleBus
	modules  []uint8
	schedule Schedule
	interval time.Duration
	logger   log.Logger
	now      func() time.Time

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// TimeKeeperOptions configures a TimeKeeper. The zero value uses
// defaults.
type TimeKeeperOptions struct {
	// Interval between syncs. Zero means DefaultSyncInterval.
	Interval time.Duration

	// Logger receives sync errors. Nil disables logging.
	Logger log.Logger

	// Now overrides the clock source, for tests. Nil means time.Now.
	Now func() time.Time
}

// NewTimeKeeper creates a TimeKeeper for the given module addresses.
func NewTimeKeeper(bus ModuleBus, modules []uint8, schedule Schedule, opts TimeKeeperOptions) *TimeKeeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.NoopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &TimeKeeper{
		bus:      bus,
		modules:  append([]uint8(nil), modules...),
		schedule: schedule,
		interval: opts.Interval,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Start begins periodic syncing, with an immediate first sync.
func (k *TimeKeeper) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return
	}
	k.started = true
	k.stop = make(chan struct{})
	k.done = make(chan struct{})
	go k.run(k.stop, k.done)
}

// Stop halts periodic syncing and waits for an in-progress sync to
// finish.
func (k *TimeKeeper) Stop() {
	k.mu.Lock()
	if !k.started {
		k.mu.Unlock()
		return
	}
	k.started = false
	stop, done := k.stop, k.done
	k.mu.Unlock()

	close(stop)
	<-done
}

func (k *TimeKeeper) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.Sync(context.Background())
	for {
		select {
		case <-ticker.C:
			k.Sync(context.Background())
		case <-stop:
			return
		}
	}
}

// Sync pushes the current time and tariff state to every module once.
// A failing module is logged and skipped; the others still sync.
func (k *TimeKeeper) Sync(ctx context.Context) {
	now := k.now()
	night := k.schedule.Night(now)

	for _, addr := range k.modules {
		if err := k.bus.SetClock(ctx, addr, now); err != nil {
			k.logSyncError(addr, err)
			continue
		}
		if err := k.bus.SetTariff(ctx, addr, night); err != nil {
			k.logSyncError(addr, err)
		}
	}
}

func (k *TimeKeeper) logSyncError(addr uint8, err error) {
	k.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerPower,
		Error: &log.ErrorEvent{
			Message: err.Error(),
			Context: fmt.Sprintf("time sync module %d", addr),
		},
	})
}
