package eeprom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mastergate/mastergate-go/pkg/frame"
	"github.com/mastergate/mastergate-go/pkg/log"
	"github.com/mastergate/mastergate-go/pkg/master"
)

// Executor issues Master commands. *master.Communicator satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd frame.Command) (*frame.Response, error)
}

// File is the paged view of the device memory: whole-bank reads served
// from a cache, writes flushed as coalesced batches. A bank is either
// wholly cached or absent; dirty markers track bytes written locally
// but not yet flushed, which only exist transiently inside Write and
// Update calls.
//
// All operations serialize on one mutex: a read-modify-write of a bank
// never interleaves with another caller's.
type File struct {
	exec   Executor
	geo    Geometry
	logger log.Logger

	mu    sync.Mutex
	banks map[int]*bankEntry
}

type bankEntry struct {
	data  []byte
	dirty []bool
}

// NewFile creates a File over the given executor. A nil logger
// disables logging.
func NewFile(exec Executor, geo Geometry, logger log.Logger) *File {
	// Bank index and offset both travel as one byte on the wire, so a
	// geometry beyond 256x256 cannot be addressed.
	if geo.Banks <= 0 || geo.Banks > 256 || geo.BankSize < 0 || geo.BankSize > 256 {
		geo = DefaultGeometry
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &File{
		exec:   exec,
		geo:    geo,
		logger: logger,
		banks:  make(map[int]*bankEntry),
	}
}

// Geometry returns the device layout the File was created with.
func (f *File) Geometry() Geometry { return f.geo }

// Read returns a copy of the bytes at addr, reading any uncached banks
// from the device first.
func (f *File) Read(ctx context.Context, addr Address) ([]byte, error) {
	if err := f.geo.Validate(addr); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]byte, 0, addr.Length)
	for _, span := range f.geo.Spans(addr) {
		entry, err := f.ensureBankLocked(ctx, span.Bank)
		if err != nil {
			return nil, err
		}
		out = append(out, entry.data[span.Offset:span.Offset+span.Length]...)
	}
	return out, nil
}

// ReadBank returns a copy of one full bank.
func (f *File) ReadBank(ctx context.Context, bank int) ([]byte, error) {
	return f.Read(ctx, Address{Bank: bank, Offset: 0, Length: f.geo.bankSize()})
}

// Write stores data at addr: the cache is updated in place and the
// touched bytes are flushed to the device in coalesced batches. If any
// flush fails the cache is rolled back to its pre-write content and
// the error is returned, so cache and device never diverge.
func (f *File) Write(ctx context.Context, addr Address, data []byte) error {
	return f.Update(ctx, addr, func([]byte) ([]byte, error) {
		return data, nil
	})
}

// Update atomically replaces the bytes at addr with fn(current). The
// read, modify and flush happen under one lock, so concurrent updates
// of overlapping ranges apply whole, in order.
func (f *File) Update(ctx context.Context, addr Address, fn func(current []byte) ([]byte, error)) error {
	if err := f.geo.Validate(addr); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	spans := f.geo.Spans(addr)

	current := make([]byte, 0, addr.Length)
	for _, span := range spans {
		entry, err := f.ensureBankLocked(ctx, span.Bank)
		if err != nil {
			return err
		}
		current = append(current, entry.data[span.Offset:span.Offset+span.Length]...)
	}

	data, err := fn(append([]byte(nil), current...))
	if err != nil {
		return err
	}
	if len(data) != addr.Length {
		return fmt.Errorf("update of %s produced %d bytes", addr, len(data))
	}

	// Snapshot affected banks so a failed flush can be undone.
	snapshots := make(map[int][]byte, len(spans))
	for _, span := range spans {
		entry := f.banks[span.Bank]
		snapshots[span.Bank] = append([]byte(nil), entry.data...)
	}

	pos := 0
	for _, span := range spans {
		entry := f.banks[span.Bank]
		for i := 0; i < span.Length; i++ {
			if entry.data[span.Offset+i] != data[pos+i] {
				entry.data[span.Offset+i] = data[pos+i]
				entry.dirty[span.Offset+i] = true
			}
		}
		pos += span.Length
	}

	for _, span := range spans {
		if err := f.flushBankLocked(ctx, span.Bank); err != nil {
			f.rollbackLocked(snapshots)
			f.logger.Log(log.Event{
				Timestamp: time.Now(),
				Layer:     log.LayerEeprom,
				Error:     &log.ErrorEvent{Message: err.Error(), Context: fmt.Sprintf("write %s rolled back", addr)},
			})
			return err
		}
	}
	return nil
}

// Activate tells the Master to reload its configuration from EEPROM.
// Call it after writes so they take effect.
func (f *File) Activate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.exec.Execute(ctx, master.EepromActivate()); err != nil {
		return fmt.Errorf("eeprom activate: %w", err)
	}
	return nil
}

// Invalidate drops one bank from the cache; the next read of any
// address in it goes to the device.
func (f *File) Invalidate(bank int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.banks, bank)
}

// InvalidateAll drops the whole cache.
func (f *File) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banks = make(map[int]*bankEntry)
	f.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerEeprom,
		State:     &log.StateEvent{OldState: "CACHED", NewState: "EMPTY", Reason: "invalidate all"},
	})
}

func (f *File) ensureBankLocked(ctx context.Context, bank int) (*bankEntry, error) {
	if entry, ok := f.banks[bank]; ok {
		return entry, nil
	}
	if bank > 0xFF {
		return nil, fmt.Errorf("%w: bank %d not addressable in one byte", ErrInvalidAddress, bank)
	}

	resp, err := f.exec.Execute(ctx, master.EepromRead(uint8(bank)))
	if err != nil {
		return nil, fmt.Errorf("read bank %d: %w", bank, err)
	}
	size := f.geo.bankSize()
	if len(resp.Payload) != 1+size {
		return nil, fmt.Errorf("read bank %d: response has %d bytes, want %d", bank, len(resp.Payload), 1+size)
	}
	if int(resp.Payload[0]) != bank {
		return nil, fmt.Errorf("read bank %d: response is for bank %d", bank, resp.Payload[0])
	}

	entry := &bankEntry{
		data:  append([]byte(nil), resp.Payload[1:]...),
		dirty: make([]bool, size),
	}
	f.banks[bank] = entry
	return entry, nil
}

// flushBankLocked writes the bank's dirty runs to the device in
// batches of at most master.WriteBatchSize bytes and clears the dirty
// markers.
func (f *File) flushBankLocked(ctx context.Context, bank int) error {
	entry := f.banks[bank]
	size := f.geo.bankSize()

	for start := 0; start < size; {
		if !entry.dirty[start] {
			start++
			continue
		}
		end := start
		for end < size && entry.dirty[end] && end-start < master.WriteBatchSize {
			end++
		}

		cmd, err := master.EepromWrite(uint8(bank), uint8(start), entry.data[start:end])
		if err != nil {
			return err
		}
		if _, err := f.exec.Execute(ctx, cmd); err != nil {
			return fmt.Errorf("write bank %d offset %d: %w", bank, start, err)
		}
		for i := start; i < end; i++ {
			entry.dirty[i] = false
		}
		start = end
	}
	return nil
}

// rollbackLocked restores bank contents from pre-write snapshots and
// clears their dirty markers.
func (f *File) rollbackLocked(snapshots map[int][]byte) {
	for bank, data := range snapshots {
		entry := f.banks[bank]
		entry.data = data
		for i := range entry.dirty {
			entry.dirty[i] = false
		}
	}
}
