package status

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

const (
	// DefaultListLength is the capacity of a new list, 16KB uncompressed.
	DefaultListLength uint = 131072

	rejectionAttempts = 64
)

// Occupancy is the set of indices of a list already handed out. Indices are never released.
type Occupancy struct {
	used     *bitset.BitSet
	capacity uint
}

// NewOccupancy builds an occupancy set, rejecting duplicates and indices outside [0, capacity).
func NewOccupancy(capacity uint, indices []uint) (*Occupancy, error) {
	if capacity == 0 {
		return nil, errors.New("capacity must be positive")
	}
	o := &Occupancy{used: bitset.New(capacity), capacity: capacity}
	for _, i := range indices {
		if err := o.Add(i); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Occupancy) Capacity() uint {
	return o.capacity
}

func (o *Occupancy) Len() uint {
	return o.used.Count()
}

func (o *Occupancy) Free() uint {
	return o.capacity - o.used.Count()
}

func (o *Occupancy) Contains(i uint) bool {
	return i < o.capacity && o.used.Test(i)
}

func (o *Occupancy) Add(i uint) error {
	if i >= o.capacity {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, capacity %d", i, o.capacity)
	}
	if o.used.Test(i) {
		return errors.Errorf("index %d already allocated", i)
	}
	o.used.Set(i)
	return nil
}

// Indices returns the allocated indices in ascending order.
func (o *Occupancy) Indices() []uint {
	out := make([]uint, 0, o.used.Count())
	for i, ok := o.used.NextSet(0); ok && i < o.capacity; i, ok = o.used.NextSet(i + 1) {
		out = append(out, i)
	}
	return out
}

// Allocator picks free indices uniformly at random so that index order leaks nothing about issuance order.
type Allocator struct {
	random io.Reader
}

// NewAllocator uses crypto/rand when random is nil.
func NewAllocator(random io.Reader) *Allocator {
	if random == nil {
		random = rand.Reader
	}
	return &Allocator{random: random}
}

// Allocate returns a free index of occupied without recording it. It fails with ErrCapacityExhausted
// when every index is taken.
func (a *Allocator) Allocate(occupied *Occupancy) (uint, error) {
	free := occupied.Free()
	if free == 0 {
		return 0, errors.Wrapf(ErrCapacityExhausted, "all %d indices allocated", occupied.capacity)
	}

	// sparse lists almost always hit a free slot on the first draws
	if free*4 >= occupied.capacity {
		for attempt := 0; attempt < rejectionAttempts; attempt++ {
			candidate, err := a.uniform(occupied.capacity)
			if err != nil {
				return 0, err
			}
			if !occupied.used.Test(candidate) {
				return candidate, nil
			}
		}
	}

	// pick the rank-th free slot
	rank, err := a.uniform(free)
	if err != nil {
		return 0, err
	}
	i, ok := occupied.used.NextClear(0)
	for ; ok && i < occupied.capacity; i, ok = occupied.used.NextClear(i + 1) {
		if rank == 0 {
			return i, nil
		}
		rank--
	}
	return 0, errors.Wrap(ErrCapacityExhausted, "no free index found")
}

func (a *Allocator) uniform(n uint) (uint, error) {
	v, err := rand.Int(a.random, new(big.Int).SetUint64(uint64(n)))
	if err != nil {
		return 0, errors.Wrap(err, "reading randomness")
	}
	return uint(v.Uint64()), nil
}
