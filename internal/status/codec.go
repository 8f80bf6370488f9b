package status

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// MaxEncodedListBytes bounds the decompressed size of a list we accept, 2^27 bits.
const MaxEncodedListBytes = 1 << 24

// Generate encodes the bitstring as the encodedList of a status list credential: packed MSB first,
// GZIP compressed, then base64url without padding. The output is deterministic.
func Generate(b *Bitstring) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b.pack()); err != nil {
		return "", errors.Wrap(err, "compressing status list")
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "compressing status list")
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Expand decodes an encodedList. A zero length keeps every bit of the payload, otherwise the payload
// must be exactly ceil(length/8) bytes with zero padding bits. Both base64 alphabets are accepted,
// padded or not.
func Expand(encoded string, length uint) (*Bitstring, error) {
	compressed, err := decodeBase64(encoded)
	if err != nil {
		return nil, errors.Wrapf(ErrDecoding, "base64: %s", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrapf(ErrDecoding, "gzip: %s", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, MaxEncodedListBytes+1))
	if err != nil {
		return nil, errors.Wrapf(ErrDecoding, "gzip: %s", err)
	}
	if len(raw) > MaxEncodedListBytes {
		return nil, errors.Wrapf(ErrDecoding, "decompressed list exceeds %d bytes", MaxEncodedListBytes)
	}

	if length == 0 {
		return unpack(raw, uint(len(raw))*8), nil
	}
	if want := (length + 7) / 8; uint(len(raw)) != want {
		return nil, errors.Wrapf(ErrDecoding, "list holds %d bytes, expected %d for %d bits", len(raw), want, length)
	}
	if rem := length % 8; rem != 0 {
		if padding := raw[len(raw)-1] & (0xff >> rem); padding != 0 {
			return nil, errors.Wrap(ErrDecoding, "padding bits are not zero")
		}
	}
	return unpack(raw, length), nil
}

func decodeBase64(encoded string) ([]byte, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(encoded), "=")
	if trimmed == "" {
		return nil, errors.New("empty list")
	}
	if strings.ContainsAny(trimmed, "+/") {
		return base64.RawStdEncoding.DecodeString(trimmed)
	}
	return base64.RawURLEncoding.DecodeString(trimmed)
}
