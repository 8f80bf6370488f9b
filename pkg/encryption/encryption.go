package encryption

import (
	"context"
	"strings"

	sdkutil "github.com/TBD54566975/ssi-sdk/util"
	"github.com/google/tink/go/aead"
	"github.com/google/tink/go/core/registry"
	"github.com/google/tink/go/integration/awskms"
	"github.com/google/tink/go/integration/gcpkms"
	"github.com/google/tink/go/keyset"
	"github.com/google/tink/go/tink"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Encrypter the interface for any encrypter implementation.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext, contextData []byte) ([]byte, error)
}

// Decrypter is the interface for any decrypter. May be AEAD or Hybrid.
type Decrypter interface {
	// Decrypt decrypts ciphertext. The second parameter may be treated as associated data for AEAD (as abstracted in
	// https://datatracker.ietf.org/doc/html/rfc5116), or as contextInfofor HPKE (https://www.rfc-editor.org/rfc/rfc9180.html)
	Decrypt(ctx context.Context, ciphertext, contextInfo []byte) ([]byte, error)
}

type KeyResolver func(ctx context.Context) ([]byte, error)

type XChaCha20Poly1305Encrypter struct {
	keyResolver KeyResolver
}

func NewXChaCha20Poly1305EncrypterWithKey(key []byte) *XChaCha20Poly1305Encrypter {
	return &XChaCha20Poly1305Encrypter{func(ctx context.Context) ([]byte, error) {
		return key, nil
	}}
}

func NewXChaCha20Poly1305EncrypterWithKeyResolver(resolver KeyResolver) *XChaCha20Poly1305Encrypter {
	return &XChaCha20Poly1305Encrypter{resolver}
}

// Encrypt seals plaintext, authenticating contextData along with it.
func (k XChaCha20Poly1305Encrypter) Encrypt(ctx context.Context, plaintext, contextData []byte) ([]byte, error) {
	key, err := k.keyResolver(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolving key")
	}
	encrypted, err := seal(key, plaintext, contextData)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "could not encrypt value")
	}
	return encrypted, nil
}

func (k XChaCha20Poly1305Encrypter) Decrypt(ctx context.Context, ciphertext, contextInfo []byte) ([]byte, error) {
	if ciphertext == nil {
		return nil, nil
	}

	key, err := k.keyResolver(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolving key")
	}
	decrypted, err := open(key, ciphertext, contextInfo)
	if err != nil {
		return nil, sdkutil.LoggingErrorMsgf(err, "could not decrypt value")
	}
	return decrypted, nil
}

var _ Decrypter = (*XChaCha20Poly1305Encrypter)(nil)
var _ Encrypter = (*XChaCha20Poly1305Encrypter)(nil)

type noopDecrypter struct{}

func (n noopDecrypter) Decrypt(_ context.Context, ciphertext, _ []byte) ([]byte, error) {
	return ciphertext, nil
}

type noopEncrypter struct{}

func (n noopEncrypter) Encrypt(_ context.Context, plaintext, _ []byte) ([]byte, error) {
	return plaintext, nil
}

var _ Decrypter = (*noopDecrypter)(nil)
var _ Encrypter = (*noopEncrypter)(nil)

var (
	NoopDecrypter = noopDecrypter{}
	NoopEncrypter = noopEncrypter{}
)

type wrappedEncrypter struct {
	tink.AEAD
}

func (w wrappedEncrypter) Encrypt(_ context.Context, plaintext, contextData []byte) ([]byte, error) {
	return w.AEAD.Encrypt(plaintext, contextData)
}

var _ Encrypter = (*wrappedEncrypter)(nil)

type wrappedDecrypter struct {
	tink.AEAD
}

func (w wrappedDecrypter) Decrypt(_ context.Context, ciphertext, contextInfo []byte) ([]byte, error) {
	return w.AEAD.Decrypt(ciphertext, contextInfo)
}

var _ Decrypter = (*wrappedDecrypter)(nil)

const (
	gcpKMSScheme = "gcp-kms"
	awsKMSScheme = "aws-kms"
)

// Config selects how stored values are encrypted. A master key URI takes precedence over a password.
type Config interface {
	GetMasterKeyURI() string
	GetKMSCredentialsPath() string
	GetPassword() string
	GetSalt() string
}

// NewStorageEncryption returns the encrypter/decrypter pair for values at rest. Values are sealed with a cloud
// KMS envelope when a master key URI is configured, or with XChaCha20-Poly1305 under an Argon2 derived key when
// only a password is set. Without either, values are stored as is.
func NewStorageEncryption(ctx context.Context, cfg Config) (Encrypter, Decrypter, error) {
	if cfg.GetMasterKeyURI() != "" {
		return newExternalEncrypter(ctx, cfg)
	}
	if cfg.GetPassword() != "" {
		key, err := DeriveStorageKey(cfg.GetPassword(), cfg.GetSalt())
		if err != nil {
			return nil, nil, errors.Wrap(err, "deriving storage key")
		}
		e := NewXChaCha20Poly1305EncrypterWithKey(key)
		return e, e, nil
	}
	logrus.Warn("storage encryption disabled")
	return NoopEncrypter, NoopDecrypter, nil
}

func newExternalEncrypter(ctx context.Context, cfg Config) (Encrypter, Decrypter, error) {
	var client registry.KMSClient
	var err error
	switch {
	case strings.HasPrefix(cfg.GetMasterKeyURI(), gcpKMSScheme):
		client, err = gcpkms.NewClientWithOptions(ctx, cfg.GetMasterKeyURI(), option.WithCredentialsFile(cfg.GetKMSCredentialsPath()))
		if err != nil {
			return nil, nil, errors.Wrap(err, "creating gcp kms client")
		}
	case strings.HasPrefix(cfg.GetMasterKeyURI(), awsKMSScheme):
		client, err = awskms.NewClientWithCredentials(cfg.GetMasterKeyURI(), cfg.GetKMSCredentialsPath())
		if err != nil {
			return nil, nil, errors.Wrap(err, "creating aws kms client")
		}
	default:
		return nil, nil, errors.Errorf("master_key_uri value %q is not supported", cfg.GetMasterKeyURI())
	}
	registry.RegisterKMSClient(client)
	dek := aead.AES256GCMKeyTemplate()
	kh, err := keyset.NewHandle(aead.KMSEnvelopeAEADKeyTemplate(cfg.GetMasterKeyURI(), dek))
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating keyset handle")
	}
	a, err := aead.New(kh)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating aead from key handle")
	}
	return wrappedEncrypter{a}, wrappedDecrypter{a}, nil
}
