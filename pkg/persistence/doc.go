// Package persistence provides runtime state persistence for the gateway.
//
// This package handles the JSON serialization of state that must
// survive gateway restarts: extension record allocations (so plugin
// records keep their configuration memory addresses across restarts)
// and the last observed Master firmware version. Configuration
// records themselves live in the Master's EEPROM and are handled by
// the eeprom package.
package persistence
