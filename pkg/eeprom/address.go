package eeprom

import (
	"errors"
	"fmt"

	"github.com/mastergate/mastergate-go/pkg/master"
)

// ErrInvalidAddress indicates an address range outside the device's
// declared geometry. It is a programming error and never retried.
var ErrInvalidAddress = errors.New("invalid eeprom address")

// Address identifies a byte range starting within one bank. A range
// whose Length extends past the end of the bank continues in the next
// bank.
type Address struct {
	Bank   int
	Offset int
	Length int
}

// String formats the address for diagnostics.
func (a Address) String() string {
	return fmt.Sprintf("bank %d offset %d length %d", a.Bank, a.Offset, a.Length)
}

// Geometry declares the device's memory layout.
type Geometry struct {
	// Banks is the number of banks the device has, at most 256 since
	// the read and write commands address banks with one byte.
	Banks int

	// BankSize is the bank size in bytes, at most 256 since the write
	// command addresses offsets with one byte. Zero means
	// master.BankSize.
	BankSize int
}

// DefaultGeometry is the layout of current Master hardware.
var DefaultGeometry = Geometry{Banks: 256, BankSize: master.BankSize}

func (g Geometry) bankSize() int {
	if g.BankSize <= 0 {
		return master.BankSize
	}
	return g.BankSize
}

// Validate checks that the address range lies within the device.
func (g Geometry) Validate(a Address) error {
	size := g.bankSize()
	if a.Bank < 0 || a.Bank >= g.Banks {
		return fmt.Errorf("%w: bank %d outside 0..%d", ErrInvalidAddress, a.Bank, g.Banks-1)
	}
	if a.Offset < 0 || a.Offset >= size {
		return fmt.Errorf("%w: offset %d outside 0..%d", ErrInvalidAddress, a.Offset, size-1)
	}
	if a.Length <= 0 {
		return fmt.Errorf("%w: length %d must be positive", ErrInvalidAddress, a.Length)
	}
	end := a.Bank*size + a.Offset + a.Length
	if end > g.Banks*size {
		return fmt.Errorf("%w: %s extends past the last bank", ErrInvalidAddress, a)
	}
	return nil
}

// Spans lists the per-bank ranges the address covers, in order. The
// address must have been validated first.
func (g Geometry) Spans(a Address) []Address {
	size := g.bankSize()
	var spans []Address
	bank, offset, remaining := a.Bank, a.Offset, a.Length
	for remaining > 0 {
		n := size - offset
		if n > remaining {
			n = remaining
		}
		spans = append(spans, Address{Bank: bank, Offset: offset, Length: n})
		remaining -= n
		bank++
		offset = 0
	}
	return spans
}
