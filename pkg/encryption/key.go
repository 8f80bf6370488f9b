package encryption

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// MinSaltSize is the shortest storage salt accepted, the argon2 recommendation
	MinSaltSize = 16

	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// DeriveStorageKey turns the configured password and salt into the XChaCha20-Poly1305 key protecting values
// at rest. The same pair always yields the same key, so a restarted service can read what it wrote.
func DeriveStorageKey(password, salt string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("encryption password required")
	}
	if len(salt) < MinSaltSize {
		return nil, errors.Errorf("encryption salt must be at least %d bytes", MinSaltSize)
	}
	return argon2.IDKey([]byte(password), []byte(salt), argon2Time, argon2Memory, argon2Threads, chacha20poly1305.KeySize), nil
}

// NewStorageKey returns a random XChaCha20-Poly1305 key.
func NewStorageKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generating storage key")
	}
	return key, nil
}

// seal encrypts value and prepends the random nonce. location is authenticated but not encrypted; opening
// the result under any other location fails.
func seal(key, value, location []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "creating aead with storage key")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err = rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generating nonce")
	}
	return aead.Seal(nonce, nonce, value, location), nil
}

func open(key, sealed, location []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "creating aead with storage key")
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.Errorf("sealed value is %d bytes, shorter than nonce and tag", len(sealed))
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	value, err := aead.Open(nil, nonce, ciphertext, location)
	if err != nil {
		return nil, errors.Wrap(err, "opening sealed value")
	}
	return value, nil
}
