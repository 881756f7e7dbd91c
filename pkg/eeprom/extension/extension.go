// Package extension multiplexes plugin-defined record layouts onto a
// reserved region of the Master's configuration memory.
//
// Plugins register a named layout once; the registry assigns it a
// deterministic address inside the reserved bank range and rejects any
// registration that would overlap an already-registered record. Reads
// and writes then go by name and delegate to the eeprom Controller.
package extension

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mastergate/mastergate-go/pkg/eeprom"
)

// ErrCollision indicates a registration that would overlap an existing
// extension record, or reuse an already-registered name. It is a
// programming error and never retried.
var ErrCollision = errors.New("extension record collision")

// BankRange is a contiguous range of banks reserved for extension
// records. Core configuration records must not use these banks.
type BankRange struct {
	// Start is the first reserved bank.
	Start int

	// Banks is the number of reserved banks.
	Banks int
}

// Registry allocates extension records inside the reserved range and
// serves named reads and writes. Allocation is sequential in
// registration order, so a fixed registration sequence always yields
// the same addresses.
type Registry struct {
	ctrl     *eeprom.Controller
	geo      eeprom.Geometry
	reserved BankRange

	mu      sync.Mutex
	records map[string]eeprom.Record
	pinned  map[string]Allocation
	nextPos int // next free byte, relative to the start of the reserve
}

// Allocation records where an extension record was placed. Restored
// allocations pin a name to its address across restarts.
type Allocation struct {
	Bank   int
	Offset int
	Length int
}

// NewRegistry creates a Registry over the given controller and
// reserved bank range.
func NewRegistry(ctrl *eeprom.Controller, reserved BankRange) (*Registry, error) {
	geo := ctrl.File().Geometry()
	if reserved.Banks <= 0 {
		return nil, fmt.Errorf("reserved range needs at least one bank")
	}
	if reserved.Start < 0 || reserved.Start+reserved.Banks > geo.Banks {
		return nil, fmt.Errorf("reserved banks %d..%d outside device with %d banks",
			reserved.Start, reserved.Start+reserved.Banks-1, geo.Banks)
	}
	return &Registry{
		ctrl:     ctrl,
		geo:      geo,
		reserved: reserved,
		records:  make(map[string]eeprom.Record),
		pinned:   make(map[string]Allocation),
	}, nil
}

// Restore pins previously persisted allocations. A later Define with a
// pinned name reuses its address instead of allocating a new one, so
// records keep their addresses even when plugins register in a
// different order after a restart. Restore must be called before any
// Define; allocations outside the reserved range are rejected.
func (r *Registry) Restore(allocs map[string]Allocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) > 0 {
		return fmt.Errorf("cannot restore allocations after records have been defined")
	}

	bankSize := r.bankSize()
	end := 0
	for name, a := range allocs {
		pos := (a.Bank-r.reserved.Start)*bankSize + a.Offset
		if a.Bank < r.reserved.Start || a.Length <= 0 ||
			pos < 0 || pos+a.Length > r.reserved.Banks*bankSize {
			return fmt.Errorf("allocation for %q (bank %d offset %d length %d) is outside the reserved banks",
				name, a.Bank, a.Offset, a.Length)
		}
		if pos+a.Length > end {
			end = pos + a.Length
		}
	}

	for name, a := range allocs {
		r.pinned[name] = a
	}
	if end > r.nextPos {
		r.nextPos = end
	}
	return nil
}

// Allocations returns the addresses of all defined records, keyed by
// name, for persistence.
func (r *Registry) Allocations() map[string]Allocation {
	r.mu.Lock()
	defer r.mu.Unlock()

	allocs := make(map[string]Allocation, len(r.records))
	for name, rec := range r.records {
		addr := rec.Address()
		allocs[name] = Allocation{Bank: addr.Bank, Offset: addr.Offset, Length: addr.Length}
	}
	return allocs
}

// Define registers a named record layout and assigns it an address in
// the reserved range. Registering a name twice or a layout that cannot
// fit without overlapping fails with ErrCollision; no partial state is
// left behind.
func (r *Registry) Define(name string, fields []eeprom.Field) (eeprom.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[name]; ok {
		return eeprom.Record{}, fmt.Errorf("%w: %q is already registered", ErrCollision, name)
	}

	bankSize := r.bankSize()
	bank := r.reserved.Start + r.nextPos/bankSize
	offset := r.nextPos % bankSize
	sequential := true
	if pin, ok := r.pinned[name]; ok {
		bank, offset = pin.Bank, pin.Offset
		sequential = false
	}

	rec, err := eeprom.NewRecord(name, bank, offset, fields)
	if err != nil {
		return eeprom.Record{}, err
	}

	length := rec.Address().Length
	if pin, ok := r.pinned[name]; ok && pin.Length != length {
		return eeprom.Record{}, fmt.Errorf("%w: %q is %d bytes but its persisted allocation is %d bytes",
			ErrCollision, name, length, pin.Length)
	}
	if sequential && r.nextPos+length > r.reserved.Banks*bankSize {
		return eeprom.Record{}, fmt.Errorf("%w: %q needs %d bytes but only %d remain in the reserved banks",
			ErrCollision, name, length, r.reserved.Banks*bankSize-r.nextPos)
	}
	for other, existing := range r.records {
		if overlaps(rec.Address(), existing.Address(), bankSize) {
			return eeprom.Record{}, fmt.Errorf("%w: %q overlaps %q", ErrCollision, name, other)
		}
	}

	r.records[name] = rec
	if sequential {
		r.nextPos += length
	}
	return rec, nil
}

func (r *Registry) bankSize() int {
	if r.geo.BankSize > 0 {
		return r.geo.BankSize
	}
	return eeprom.DefaultGeometry.BankSize
}

// Lookup returns a registered record by name.
func (r *Registry) Lookup(name string) (eeprom.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	return rec, ok
}

// Names lists registered record names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Read reads the named extension record.
func (r *Registry) Read(ctx context.Context, name string) (eeprom.Values, error) {
	rec, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("extension record %q is not registered", name)
	}
	return r.ctrl.ReadRecord(ctx, rec)
}

// Write writes field values to the named extension record.
func (r *Registry) Write(ctx context.Context, name string, vals eeprom.Values) error {
	rec, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("extension record %q is not registered", name)
	}
	return r.ctrl.WriteRecord(ctx, rec, vals)
}

// overlaps reports whether two address ranges share any byte.
func overlaps(a, b eeprom.Address, bankSize int) bool {
	aStart := a.Bank*bankSize + a.Offset
	bStart := b.Bank*bankSize + b.Offset
	return aStart < bStart+b.Length && bStart < aStart+a.Length
}
