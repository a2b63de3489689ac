package register

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned for an absent address when no default is configured.
var ErrNotFound = errors.New("register not found")

// GapValue fills absent addresses inside a range read when no default is
// configured.
const GapValue uint16 = 0xFFFF

// AddressSpace is the number of addressable registers.
const AddressSpace = 0x10000

// InRange reports whether count words starting at start fit the address
// space without wrapping past 65535.
func InRange(start uint16, count int) bool {
	return count >= 0 && int(start)+count <= AddressSpace
}

// Store maps 16-bit register addresses to 16-bit words.
// It is shared by the slave engine, the drivers and the status surfaces,
// so every access goes through the mutex. A multi-word Set is atomic for readers.
type Store struct {
	mu           sync.RWMutex
	words        map[uint16]uint16
	defaultValue uint16
	hasDefault   bool
}

// NewStore creates a store without a default value policy. Range reads
// still fill gaps with GapValue.
func NewStore() *Store {
	return &Store{words: make(map[uint16]uint16), defaultValue: GapValue}
}

// NewStoreWithDefault creates a store that answers absent addresses with def.
func NewStoreWithDefault(def uint16) *Store {
	return &Store{
		words:        make(map[uint16]uint16),
		defaultValue: def,
		hasDefault:   true,
	}
}

// Set overwrites len(values) consecutive addresses starting at address.
// Values past 65535 are dropped rather than wrapped to address 0.
func (s *Store) Set(address uint16, values ...uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, v := range values {
		if int(address)+i >= AddressSpace {
			break
		}
		s.words[address+uint16(i)] = v
	}
}

// Get returns the stored word, the default, or ErrNotFound.
func (s *Store) Get(address uint16) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.words[address]; ok {
		return v, nil
	}
	if s.hasDefault {
		return s.defaultValue, nil
	}
	return 0, fmt.Errorf("address %d: %w", address, ErrNotFound)
}

// GetOrDefault returns the stored word, the default value, or GapValue
// without a default policy.
func (s *Store) GetOrDefault(address uint16) uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.words[address]; ok {
		return v
	}
	return s.defaultValue
}

// ReadRange returns count words starting at start from one consistent
// snapshot. Absent addresses read as GetOrDefault does.
func (s *Store) ReadRange(start uint16, count int) []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uint16, count)
	for i := range out {
		addr := start + uint16(i)
		if v, ok := s.words[addr]; ok {
			out[i] = v
		} else {
			out[i] = s.defaultValue
		}
	}
	return out
}

// Has reports whether address has been populated.
func (s *Store) Has(address uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.words[address]
	return ok
}

// HasDefault reports whether a default value policy is configured.
func (s *Store) HasDefault() bool {
	return s.hasDefault
}

// Len returns the number of populated addresses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.words)
}
