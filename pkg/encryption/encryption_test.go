package encryption

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

type testConfig struct {
	masterKeyURI string
	password     string
	salt         string
}

func (c testConfig) GetMasterKeyURI() string       { return c.masterKeyURI }
func (c testConfig) GetKMSCredentialsPath() string { return "" }
func (c testConfig) GetPassword() string           { return c.password }
func (c testConfig) GetSalt() string               { return c.salt }

func TestDeriveStorageKey(t *testing.T) {
	key, err := DeriveStorageKey("correct horse", "battery-staple-16")
	require.NoError(t, err)
	assert.Len(t, key, chacha20poly1305.KeySize)

	again, err := DeriveStorageKey("correct horse", "battery-staple-16")
	require.NoError(t, err)
	assert.Equal(t, key, again)

	other, err := DeriveStorageKey("correct horse", "battery-staple-17")
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	tests := []struct {
		name     string
		password string
		salt     string
	}{
		{name: "no password", salt: "battery-staple-16"},
		{name: "no salt", password: "correct horse"},
		{name: "short salt", password: "correct horse", salt: "battery"},
	}
	for _, test := range tests {
		t.Run(test.name, func(tt *testing.T) {
			_, err := DeriveStorageKey(test.password, test.salt)
			assert.Error(tt, err)
		})
	}
}

func TestXChaCha20Poly1305Encrypter(t *testing.T) {
	serviceKey, err := NewStorageKey()
	require.NoError(t, err)
	encrypter := NewXChaCha20Poly1305EncrypterWithKeyResolver(func(ctx context.Context) ([]byte, error) {
		return serviceKey, nil
	})

	statusList := []byte(`{"credentialSubject":{"encodedList":"H4sIAAAAAAAA_2IAAAAA__8BAAD__w"}}`)
	location := []byte("status:did:web:acme:statuslist:statuslist2021/revocation")
	encrypted, err := encrypter.Encrypt(context.Background(), statusList, location)
	assert.NoError(t, err)
	assert.NotEqual(t, statusList, encrypted)

	decrypted, err := encrypter.Decrypt(context.Background(), encrypted, location)
	assert.NoError(t, err)
	assert.Equal(t, statusList, decrypted)

	t.Run("two seals of one value differ", func(tt *testing.T) {
		again, err := encrypter.Encrypt(context.Background(), statusList, location)
		require.NoError(tt, err)
		assert.NotEqual(tt, encrypted, again)
	})

	t.Run("wrong key fails", func(tt *testing.T) {
		otherKey, err := NewStorageKey()
		require.NoError(tt, err)
		_, err = NewXChaCha20Poly1305EncrypterWithKey(otherKey).Decrypt(context.Background(), encrypted, location)
		assert.Error(tt, err)
	})

	t.Run("another location fails", func(tt *testing.T) {
		_, err := encrypter.Decrypt(context.Background(), encrypted, []byte("status:did:web:globex:statuslist:statuslist2021/revocation"))
		assert.Error(tt, err)
	})

	t.Run("truncated value fails", func(tt *testing.T) {
		_, err := encrypter.Decrypt(context.Background(), encrypted[:20], location)
		assert.Error(tt, err)
	})

	t.Run("nil ciphertext", func(tt *testing.T) {
		got, err := encrypter.Decrypt(context.Background(), nil, location)
		assert.NoError(tt, err)
		assert.Nil(tt, got)
	})
}

func TestNewStorageEncryption(t *testing.T) {
	plaintext := []byte("occupancy")

	t.Run("disabled is a passthrough", func(tt *testing.T) {
		e, d, err := NewStorageEncryption(context.Background(), testConfig{})
		require.NoError(tt, err)
		sealed, err := e.Encrypt(context.Background(), plaintext, nil)
		assert.NoError(tt, err)
		assert.Equal(tt, plaintext, sealed)
		opened, err := d.Decrypt(context.Background(), sealed, nil)
		assert.NoError(tt, err)
		assert.Equal(tt, plaintext, opened)
	})

	t.Run("password derived key is stable", func(tt *testing.T) {
		cfg := testConfig{password: "correct horse", salt: "battery-staple-16"}
		e, _, err := NewStorageEncryption(context.Background(), cfg)
		require.NoError(tt, err)
		sealed, err := e.Encrypt(context.Background(), plaintext, nil)
		require.NoError(tt, err)
		assert.NotEqual(tt, plaintext, sealed)

		// a restarted service derives the same key
		_, d, err := NewStorageEncryption(context.Background(), cfg)
		require.NoError(tt, err)
		opened, err := d.Decrypt(context.Background(), sealed, nil)
		assert.NoError(tt, err)
		assert.Equal(tt, plaintext, opened)
	})

	t.Run("password without salt", func(tt *testing.T) {
		_, _, err := NewStorageEncryption(context.Background(), testConfig{password: "pw"})
		assert.Error(tt, err)
	})

	t.Run("password with a short salt", func(tt *testing.T) {
		_, _, err := NewStorageEncryption(context.Background(), testConfig{password: "pw", salt: "pepper"})
		assert.Error(tt, err)
	})

	t.Run("unsupported kms scheme", func(tt *testing.T) {
		_, _, err := NewStorageEncryption(context.Background(), testConfig{masterKeyURI: "vault://key"})
		assert.Error(tt, err)
		assert.Contains(tt, err.Error(), "is not supported")
	})
}
