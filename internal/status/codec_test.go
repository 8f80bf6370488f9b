package status

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, raw []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestBitstring(t *testing.T) {
	t.Run("parse and print", func(tt *testing.T) {
		b, err := ParseBitstring("0101100001")
		require.NoError(tt, err)
		assert.EqualValues(tt, 10, b.Len())
		assert.EqualValues(tt, 4, b.Count())
		assert.Equal(tt, "0101100001", b.String())

		set, err := b.Test(1)
		assert.NoError(tt, err)
		assert.True(tt, set)
		set, err = b.Test(2)
		assert.NoError(tt, err)
		assert.False(tt, set)
	})

	t.Run("bad characters", func(tt *testing.T) {
		_, err := ParseBitstring("01x1")
		assert.Error(tt, err)
	})

	t.Run("set and clear", func(tt *testing.T) {
		b := NewBitstring(16)
		assert.NoError(tt, b.Set(15, true))
		assert.NoError(tt, b.Set(0, true))
		assert.NoError(tt, b.Set(0, false))
		assert.Equal(tt, "0000000000000001", b.String())
	})

	t.Run("out of range", func(tt *testing.T) {
		b := NewBitstring(8)
		assert.ErrorIs(tt, b.Set(8, true), ErrIndexOutOfRange)
		_, err := b.Test(100)
		assert.ErrorIs(tt, err, ErrIndexOutOfRange)
		assert.EqualValues(tt, 8, b.Len())
	})

	t.Run("msb first packing", func(tt *testing.T) {
		b, err := ParseBitstring("100000000100000001")
		require.NoError(tt, err)
		assert.Equal(tt, []byte{0x80, 0x40, 0x40}, b.pack())
	})
}

func TestGenerateExpand(t *testing.T) {
	t.Run("capacity eight scenario", func(tt *testing.T) {
		b := NewBitstring(8)
		require.NoError(tt, b.Set(3, true))

		encoded, err := Generate(b)
		require.NoError(tt, err)
		assert.NotContains(tt, encoded, "=")

		expanded, err := Expand(encoded, 8)
		require.NoError(tt, err)
		assert.Equal(tt, "00010000", expanded.String())

		set, err := expanded.Test(3)
		assert.NoError(tt, err)
		assert.True(tt, set)
	})

	t.Run("round trip", func(tt *testing.T) {
		for _, bits := range []string{"1", "0", "10110", "00000000", "11111111", "101010101010101010101"} {
			b, err := ParseBitstring(bits)
			require.NoError(tt, err)
			encoded, err := Generate(b)
			require.NoError(tt, err)

			expanded, err := Expand(encoded, uint(len(bits)))
			require.NoError(tt, err, bits)
			assert.Equal(tt, bits, expanded.String())
		}
	})

	t.Run("default length list", func(tt *testing.T) {
		b := NewBitstring(DefaultListLength)
		for _, i := range []uint{0, 7, 8, 4096, DefaultListLength - 1} {
			require.NoError(tt, b.Set(i, true))
		}
		encoded, err := Generate(b)
		require.NoError(tt, err)
		// zeros compress well
		assert.Less(tt, len(encoded), 1024)

		expanded, err := Expand(encoded, DefaultListLength)
		require.NoError(tt, err)
		assert.EqualValues(tt, 5, expanded.Count())
		assert.Equal(tt, b.String(), expanded.String())
	})

	t.Run("deterministic", func(tt *testing.T) {
		b, err := ParseBitstring("0001000000100000")
		require.NoError(tt, err)
		first, err := Generate(b)
		require.NoError(tt, err)
		second, err := Generate(b)
		require.NoError(tt, err)
		assert.Equal(tt, first, second)
	})

	t.Run("zero length keeps payload bits", func(tt *testing.T) {
		b, err := ParseBitstring("1100")
		require.NoError(tt, err)
		encoded, err := Generate(b)
		require.NoError(tt, err)

		expanded, err := Expand(encoded, 0)
		require.NoError(tt, err)
		assert.Equal(tt, "11000000", expanded.String())
	})

	t.Run("padded and standard alphabet accepted", func(tt *testing.T) {
		raw := bytes.Repeat([]byte{0xfb, 0xff}, 64)
		compressed := gzipBytes(tt, raw)

		for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding} {
			expanded, err := Expand(encoding.EncodeToString(compressed), uint(len(raw))*8)
			require.NoError(tt, err)
			assert.EqualValues(tt, len(raw)*8-len(raw)/2, expanded.Count())
		}
	})
}

func TestExpandErrors(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
		length  uint
	}{
		{
			name:    "empty",
			encoded: "",
			length:  8,
		},
		{
			name:    "not base64",
			encoded: "!!!not-base64!!!",
			length:  8,
		},
		{
			name:    "not gzip",
			encoded: base64.RawURLEncoding.EncodeToString([]byte("plain bytes")),
			length:  8,
		},
		{
			name:    "truncated gzip",
			encoded: base64.RawURLEncoding.EncodeToString(gzipBytes(t, []byte{0, 1, 2, 3})[:12]),
			length:  32,
		},
		{
			name:    "payload shorter than length",
			encoded: base64.RawURLEncoding.EncodeToString(gzipBytes(t, []byte{0})),
			length:  16,
		},
		{
			name:    "payload longer than length",
			encoded: base64.RawURLEncoding.EncodeToString(gzipBytes(t, []byte{0, 0})),
			length:  8,
		},
		{
			name:    "non zero padding bits",
			encoded: base64.RawURLEncoding.EncodeToString(gzipBytes(t, []byte{0xff})),
			length:  4,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(tt *testing.T) {
			_, err := Expand(test.encoded, test.length)
			assert.ErrorIs(tt, err, ErrDecoding)
		})
	}
}
