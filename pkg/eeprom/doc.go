// Package eeprom models the Master's configuration memory as typed
// records over a paged bank cache.
//
// The Master exposes its EEPROM as fixed-size banks that can only be
// read a whole page at a time and written in small batches. File wraps
// those commands with a cache: a bank is read once and served from
// memory afterwards, writes mutate the cache and flush coalesced dirty
// runs to the device. Controller adds the typed layer: a Record
// describes a field layout at an address, ReadRecord and WriteRecord
// convert between field values and raw bank bytes.
//
// Cache and device state never diverge after a successful call: a
// failed flush rolls the cache back to its pre-write content before
// the error is returned.
package eeprom
