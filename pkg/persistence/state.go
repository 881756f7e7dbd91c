package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// GatewayState contains the runtime state for a gateway.
type GatewayState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Firmware is the last Master firmware version seen in a status
	// response.
	Firmware string `json:"firmware,omitempty"`

	// Extensions maps extension record names to their allocated
	// addresses. Allocations are persisted so plugin records keep
	// their addresses even when plugins register in a different
	// order after a restart.
	Extensions map[string]ExtensionAllocation `json:"extensions,omitempty"`
}

// ExtensionAllocation records where an extension record lives in the
// Master's configuration memory.
type ExtensionAllocation struct {
	// Bank is the bank holding the first byte of the record.
	Bank int `json:"bank"`

	// Offset is the record's offset within that bank.
	Offset int `json:"offset"`

	// Length is the record length in bytes.
	Length int `json:"length"`
}

// StateStore manages persistence of gateway state to a JSON file.
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore creates a new gateway state store.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Save persists the gateway state to disk.
func (s *StateStore) Save(state *GatewayState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0644)
}

// Load reads the gateway state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *StateStore) Load() (*GatewayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &GatewayState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}

	return state, nil
}

// Clear removes the state file.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
