package eeprom

import (
	"fmt"
	"sort"
)

// Field is one typed slot within a record, at an offset relative to the
// record's start.
type Field struct {
	Name   string
	Offset int
	Codec  Codec
}

// Record is a named, typed view of one address range. Build one with
// NewRecord; a valid record's fields cover its range exactly, without
// overlap.
type Record struct {
	name   string
	addr   Address
	fields []Field
}

// Values holds decoded field values keyed by field name.
type Values map[string]any

// NewRecord validates a record layout. The fields must tile the
// length exactly: no gaps, no overlaps, widths summing to length.
func NewRecord(name string, bank, offset int, fields []Field) (Record, error) {
	if name == "" {
		return Record{}, fmt.Errorf("record needs a name")
	}
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("record %q has no fields", name)
	}

	sorted := make([]Field, len(fields))
	copy(sorted, fields)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	seen := make(map[string]bool, len(sorted))
	next := 0
	for _, f := range sorted {
		if f.Name == "" {
			return Record{}, fmt.Errorf("record %q has an unnamed field", name)
		}
		if seen[f.Name] {
			return Record{}, fmt.Errorf("record %q has duplicate field %q", name, f.Name)
		}
		seen[f.Name] = true
		if f.Codec == nil {
			return Record{}, fmt.Errorf("record %q field %q has no codec", name, f.Name)
		}
		if f.Offset < next {
			return Record{}, fmt.Errorf("record %q field %q overlaps the previous field", name, f.Name)
		}
		if f.Offset > next {
			return Record{}, fmt.Errorf("record %q has a %d-byte gap before field %q", name, f.Offset-next, f.Name)
		}
		next = f.Offset + f.Codec.Width()
	}

	return Record{
		name:   name,
		addr:   Address{Bank: bank, Offset: offset, Length: next},
		fields: sorted,
	}, nil
}

// MustRecord is NewRecord that panics on layout errors. Use it for
// layouts fixed at compile time.
func MustRecord(name string, bank, offset int, fields []Field) Record {
	r, err := NewRecord(name, bank, offset, fields)
	if err != nil {
		panic(err)
	}
	return r
}

// Name returns the record's name.
func (r Record) Name() string { return r.name }

// Address returns the raw byte range the record occupies.
func (r Record) Address() Address { return r.addr }

// Fields returns the layout in offset order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Decode converts the record's raw bytes into field values. raw must
// be exactly the record's length.
func (r Record) Decode(raw []byte) (Values, error) {
	if len(raw) != r.addr.Length {
		return nil, fmt.Errorf("record %q wants %d bytes, got %d", r.name, r.addr.Length, len(raw))
	}
	vals := make(Values, len(r.fields))
	for _, f := range r.fields {
		v, err := f.Codec.Decode(raw[f.Offset : f.Offset+f.Codec.Width()])
		if err != nil {
			return nil, fmt.Errorf("record %q field %q: %w", r.name, f.Name, err)
		}
		vals[f.Name] = v
	}
	return vals, nil
}

// Encode applies field values on top of the record's current raw bytes
// and returns the result. Fields absent from vals keep their current
// bytes, so a partial update never disturbs neighbouring fields.
func (r Record) Encode(vals Values, current []byte) ([]byte, error) {
	if len(current) != r.addr.Length {
		return nil, fmt.Errorf("record %q wants %d current bytes, got %d", r.name, r.addr.Length, len(current))
	}
	byName := make(map[string]Field, len(r.fields))
	for _, f := range r.fields {
		byName[f.Name] = f
	}
	for name := range vals {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("record %q has no field %q", r.name, name)
		}
	}

	out := append([]byte(nil), current...)
	for name, v := range vals {
		f := byName[name]
		b, err := f.Codec.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("record %q field %q: %w", r.name, f.Name, err)
		}
		copy(out[f.Offset:], b)
	}
	return out, nil
}
