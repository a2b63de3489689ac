package register

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSetSequence(t *testing.T) {
	s := NewStore()
	s.Set(40000, 0x5375, 0x6E53)

	v, err := s.Get(40000)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x5375), v)

	v, err = s.Get(40001)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x6E53), v)
	assert.Equal(t, 2, s.Len())
}

func TestStoreGetWithoutDefault(t *testing.T) {
	s := NewStore()

	_, err := s.Get(1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, s.Has(1))
	assert.False(t, s.HasDefault())
}

func TestStoreGetWithDefault(t *testing.T) {
	s := NewStoreWithDefault(0xFFFF)
	s.Set(10, 7)

	v, err := s.Get(11)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), v)
	assert.Equal(t, uint16(7), s.GetOrDefault(10))
	assert.Equal(t, uint16(0xFFFF), s.GetOrDefault(12))
	assert.False(t, s.Has(11))
}

func TestStoreReadRange(t *testing.T) {
	s := NewStoreWithDefault(0xFFFF)
	s.Set(100, 1, 2)

	assert.Equal(t, []uint16{1, 2, 0xFFFF}, s.ReadRange(100, 3))
}

func TestStoreMultiWordSetIsAtomic(t *testing.T) {
	s := NewStore()
	s.Set(0, 0, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			if i%2 == 0 {
				s.Set(0, 1, 1)
			} else {
				s.Set(0, 2, 2)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			pair := s.ReadRange(0, 2)
			assert.Equal(t, pair[0], pair[1])
		}
	}()
	wg.Wait()
}

func TestStoreGapsWithoutDefault(t *testing.T) {
	s := NewStore()
	s.Set(100, 1)

	assert.Equal(t, []uint16{1, GapValue}, s.ReadRange(100, 2))
	assert.Equal(t, GapValue, s.GetOrDefault(5))
	_, err := s.Get(5)
	assert.ErrorIs(t, err, ErrNotFound, "Get still reports absent addresses")
}

func TestStoreSetStopsAtAddressSpaceEnd(t *testing.T) {
	s := NewStore()
	s.Set(65535, 1, 2)

	assert.True(t, s.Has(65535))
	assert.False(t, s.Has(0))
	assert.Equal(t, 1, s.Len())
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(0, 125))
	assert.True(t, InRange(65535, 1))
	assert.False(t, InRange(65535, 2))
	assert.False(t, InRange(65500, 125))
}
