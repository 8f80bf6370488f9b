package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOccupancy(t *testing.T) {
	t.Run("valid", func(tt *testing.T) {
		o, err := NewOccupancy(16, []uint{3, 0, 15})
		require.NoError(tt, err)
		assert.EqualValues(tt, 3, o.Len())
		assert.EqualValues(tt, 13, o.Free())
		assert.Equal(tt, []uint{0, 3, 15}, o.Indices())
		assert.True(tt, o.Contains(15))
		assert.False(tt, o.Contains(16))
	})

	t.Run("duplicate", func(tt *testing.T) {
		_, err := NewOccupancy(16, []uint{3, 3})
		assert.Error(tt, err)
	})

	t.Run("out of range", func(tt *testing.T) {
		_, err := NewOccupancy(16, []uint{16})
		assert.ErrorIs(tt, err, ErrIndexOutOfRange)
	})

	t.Run("zero capacity", func(tt *testing.T) {
		_, err := NewOccupancy(0, nil)
		assert.Error(tt, err)
	})
}

func TestAllocate(t *testing.T) {
	allocator := NewAllocator(nil)

	t.Run("fills a list without repeats then exhausts", func(tt *testing.T) {
		o, err := NewOccupancy(8, nil)
		require.NoError(tt, err)

		seen := make(map[uint]bool)
		for i := 0; i < 8; i++ {
			idx, err := allocator.Allocate(o)
			require.NoError(tt, err)
			assert.Less(tt, idx, uint(8))
			assert.False(tt, seen[idx], "index %d handed out twice", idx)
			seen[idx] = true
			require.NoError(tt, o.Add(idx))
		}

		before := o.Indices()
		_, err = allocator.Allocate(o)
		assert.ErrorIs(tt, err, ErrCapacityExhausted)
		assert.Equal(tt, before, o.Indices())
	})

	t.Run("dense list finds the last slot", func(tt *testing.T) {
		used := make([]uint, 0, 999)
		for i := uint(0); i < 1000; i++ {
			if i != 617 {
				used = append(used, i)
			}
		}
		o, err := NewOccupancy(1000, used)
		require.NoError(tt, err)

		idx, err := allocator.Allocate(o)
		require.NoError(tt, err)
		assert.EqualValues(tt, 617, idx)
		assert.EqualValues(tt, 999, o.Len())
	})

	t.Run("capacity not a multiple of the word size", func(tt *testing.T) {
		o, err := NewOccupancy(70, nil)
		require.NoError(tt, err)
		for i := 0; i < 70; i++ {
			idx, err := allocator.Allocate(o)
			require.NoError(tt, err)
			require.Less(tt, idx, uint(70))
			require.NoError(tt, o.Add(idx))
		}
		_, err = allocator.Allocate(o)
		assert.ErrorIs(tt, err, ErrCapacityExhausted)
	})

	t.Run("spreads across the list", func(tt *testing.T) {
		o, err := NewOccupancy(DefaultListLength, nil)
		require.NoError(tt, err)
		var high int
		for i := 0; i < 200; i++ {
			idx, err := allocator.Allocate(o)
			require.NoError(tt, err)
			require.NoError(tt, o.Add(idx))
			if idx >= DefaultListLength/2 {
				high++
			}
		}
		// sequential allocation would never reach the upper half
		assert.Greater(tt, high, 0)
		assert.Less(tt, high, 200)
	})
}
