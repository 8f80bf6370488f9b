package storage

import (
	"context"

	"github.com/pkg/errors"

	"github.com/opsecid/traceability-service/pkg/encryption"
)

// EncryptedWrapper encrypts values at rest. Keys are stored in the clear so prefix reads keep working. Every
// value is sealed together with its namespace and key, so a value copied under another key no longer opens.
type EncryptedWrapper struct {
	s         ServiceStorage
	encrypter encryption.Encrypter
	decrypter encryption.Decrypter
}

func NewEncryptedWrapper(s ServiceStorage, encrypter encryption.Encrypter, decrypter encryption.Decrypter) *EncryptedWrapper {
	return &EncryptedWrapper{
		s:         s,
		encrypter: encrypter,
		decrypter: decrypter,
	}
}

func (e EncryptedWrapper) Init(opts ...Option) error {
	return e.s.Init(opts...)
}

func (e EncryptedWrapper) Type() Type {
	return e.s.Type()
}

func (e EncryptedWrapper) URI() string {
	return e.s.URI()
}

func (e EncryptedWrapper) IsOpen() bool {
	return e.s.IsOpen()
}

func (e EncryptedWrapper) Close() error {
	return e.s.Close()
}

func location(namespace, key string) []byte {
	return []byte(Join(namespace, key))
}

func (e EncryptedWrapper) Write(ctx context.Context, namespace, key string, value []byte) error {
	encryptedData, err := e.encrypter.Encrypt(ctx, value, location(namespace, key))
	if err != nil {
		return errors.Wrap(err, "encrypting data")
	}
	return e.s.Write(ctx, namespace, key, encryptedData)
}

func (e EncryptedWrapper) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	storedBytes, err := e.s.Read(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	return e.decrypt(ctx, namespace, key, storedBytes)
}

func (e EncryptedWrapper) decrypt(ctx context.Context, namespace, key string, storedBytes []byte) ([]byte, error) {
	if storedBytes == nil {
		return nil, nil
	}
	decryptedData, err := e.decrypter.Decrypt(ctx, storedBytes, location(namespace, key))
	if err != nil {
		return nil, errors.Wrapf(err, "decrypting %s", key)
	}
	return decryptedData, nil
}

func (e EncryptedWrapper) Exists(ctx context.Context, namespace, key string) (bool, error) {
	return e.s.Exists(ctx, namespace, key)
}

func (e EncryptedWrapper) ReadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	encryptedKeyedBytes, err := e.s.ReadAll(ctx, namespace)
	if err != nil {
		return nil, err
	}
	return e.decryptMap(ctx, namespace, encryptedKeyedBytes)
}

func (e EncryptedWrapper) decryptMap(ctx context.Context, namespace string, encryptedKeyedBytes map[string][]byte) (map[string][]byte, error) {
	decryptedValues := make(map[string][]byte, len(encryptedKeyedBytes))
	for key, encryptedBytes := range encryptedKeyedBytes {
		decryptedData, err := e.decrypt(ctx, namespace, key, encryptedBytes)
		if err != nil {
			return nil, err
		}
		decryptedValues[key] = decryptedData
	}
	return decryptedValues, nil
}

func (e EncryptedWrapper) ReadPrefix(ctx context.Context, namespace, prefix string) (map[string][]byte, error) {
	encryptedMap, err := e.s.ReadPrefix(ctx, namespace, prefix)
	if err != nil {
		return nil, err
	}
	return e.decryptMap(ctx, namespace, encryptedMap)
}

func (e EncryptedWrapper) Delete(ctx context.Context, namespace, key string) error {
	return e.s.Delete(ctx, namespace, key)
}

type encryptedTx struct {
	tx      Tx
	wrapper EncryptedWrapper
}

func (m encryptedTx) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	storedBytes, err := m.tx.Read(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	return m.wrapper.decrypt(ctx, namespace, key, storedBytes)
}

func (m encryptedTx) Write(ctx context.Context, namespace, key string, value []byte) error {
	encryptedData, err := m.wrapper.encrypter.Encrypt(ctx, value, location(namespace, key))
	if err != nil {
		return errors.Wrap(err, "encrypting data")
	}
	return m.tx.Write(ctx, namespace, key, encryptedData)
}

func (e EncryptedWrapper) Execute(ctx context.Context, businessLogicFunc BusinessLogicFunc, watchKeys []WatchKey) (any, error) {
	return e.s.Execute(ctx, func(ctx context.Context, tx Tx) (any, error) {
		return businessLogicFunc(ctx, encryptedTx{tx: tx, wrapper: e})
	}, watchKeys)
}

var _ ServiceStorage = (*EncryptedWrapper)(nil)
