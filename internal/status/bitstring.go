package status

import (
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

// Bitstring is a fixed length sequence of status bits. Bit i set means the credential holding index i
// has the status of the list (revoked, suspended).
type Bitstring struct {
	bits   *bitset.BitSet
	length uint
}

// NewBitstring returns an all-zero bitstring of the given length.
func NewBitstring(length uint) *Bitstring {
	return &Bitstring{bits: bitset.New(length), length: length}
}

// ParseBitstring reads the '0'/'1' character form, index 0 first.
func ParseBitstring(s string) (*Bitstring, error) {
	b := NewBitstring(uint(len(s)))
	for i, c := range []byte(s) {
		switch c {
		case '0':
		case '1':
			b.bits.Set(uint(i))
		default:
			return nil, errors.Errorf("invalid character %q at position %d", c, i)
		}
	}
	return b, nil
}

func (b *Bitstring) Len() uint {
	return b.length
}

// Count returns the number of set bits.
func (b *Bitstring) Count() uint {
	return b.bits.Count()
}

func (b *Bitstring) Test(i uint) (bool, error) {
	if i >= b.length {
		return false, errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, b.length)
	}
	return b.bits.Test(i), nil
}

func (b *Bitstring) Set(i uint, value bool) error {
	if i >= b.length {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, b.length)
	}
	if value {
		b.bits.Set(i)
	} else {
		b.bits.Clear(i)
	}
	return nil
}

func (b *Bitstring) String() string {
	var sb strings.Builder
	sb.Grow(int(b.length))
	for i := uint(0); i < b.length; i++ {
		if b.bits.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// pack lays the bits out most significant bit first: bit i lands in byte i/8 under mask 0x80>>(i%8).
// Trailing bits of the last byte are zero.
func (b *Bitstring) pack() []byte {
	out := make([]byte, (b.length+7)/8)
	for i, ok := b.bits.NextSet(0); ok && i < b.length; i, ok = b.bits.NextSet(i + 1) {
		out[i/8] |= 0x80 >> (i % 8)
	}
	return out
}

func unpack(data []byte, length uint) *Bitstring {
	b := NewBitstring(length)
	for i := uint(0); i < length; i++ {
		if data[i/8]&(0x80>>(i%8)) != 0 {
			b.bits.Set(i)
		}
	}
	return b
}
