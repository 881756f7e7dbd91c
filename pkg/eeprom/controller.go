package eeprom

import (
	"context"
	"fmt"
)

// Controller is the typed layer over File: it resolves record
// descriptors to address ranges and converts between field values and
// raw bank bytes.
type Controller struct {
	file *File
}

// RecordWrite pairs a record with the field values to store in it.
type RecordWrite struct {
	Record Record
	Values Values
}

// NewController creates a Controller over an existing File.
func NewController(file *File) *Controller {
	return &Controller{file: file}
}

// File exposes the underlying paged view, for callers that need raw
// bank access next to typed records.
func (c *Controller) File() *File { return c.file }

// ReadRecord reads a record and decodes its fields. Banks already in
// the cache are served without device traffic.
func (c *Controller) ReadRecord(ctx context.Context, rec Record) (Values, error) {
	raw, err := c.file.Read(ctx, rec.Address())
	if err != nil {
		return nil, fmt.Errorf("read record %q: %w", rec.Name(), err)
	}
	vals, err := rec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("read record %q: %w", rec.Name(), err)
	}
	return vals, nil
}

// WriteRecord encodes the given fields over the record's current bytes,
// writes them to the device and activates the new configuration.
// Fields absent from vals keep their current content. On a device
// failure the cache is rolled back and the error returned.
func (c *Controller) WriteRecord(ctx context.Context, rec Record, vals Values) error {
	if err := c.writeRecord(ctx, rec, vals); err != nil {
		return err
	}
	return c.file.Activate(ctx)
}

// WriteRecords writes several records and activates once at the end.
// It stops at the first failure; records written before it remain
// written but not yet activated.
func (c *Controller) WriteRecords(ctx context.Context, writes []RecordWrite) error {
	for _, w := range writes {
		if err := c.writeRecord(ctx, w.Record, w.Values); err != nil {
			return err
		}
	}
	return c.file.Activate(ctx)
}

func (c *Controller) writeRecord(ctx context.Context, rec Record, vals Values) error {
	err := c.file.Update(ctx, rec.Address(), func(current []byte) ([]byte, error) {
		return rec.Encode(vals, current)
	})
	if err != nil {
		return fmt.Errorf("write record %q: %w", rec.Name(), err)
	}
	return nil
}

// Invalidate drops one cached bank.
func (c *Controller) Invalidate(bank int) {
	c.file.Invalidate(bank)
}

// InvalidateAll drops the whole cache. Call it when the Master reports
// a configuration change (module init event).
func (c *Controller) InvalidateAll() {
	c.file.InvalidateAll()
}

// Activate makes the Master reload its configuration from EEPROM.
func (c *Controller) Activate(ctx context.Context) error {
	return c.file.Activate(ctx)
}
