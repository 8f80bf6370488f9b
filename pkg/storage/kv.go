package storage

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrAlreadyExists = errors.New("key already exists")
)

// MakeKey builds the key {scope}:{kind}:{id}. The scope, usually the DID of the issuer that owns the value, and
// the kind are lower-cased. The id is kept as given since credential ids and URLs are case-sensitive.
func MakeKey(scope, kind, id string) string {
	return strings.Join([]string{strings.ToLower(scope), strings.ToLower(kind), id}, ":")
}

// KeyValueStore stores JSON documents under string keys within a single namespace of a ServiceStorage.
// Store refuses to overwrite and Update refuses to create, which lets callers detect lifecycle mistakes.
type KeyValueStore struct {
	db        ServiceStorage
	namespace string
}

func NewKeyValueStore(db ServiceStorage, namespace string) (*KeyValueStore, error) {
	if db == nil {
		return nil, errors.New("db reference is nil")
	}
	if namespace == "" {
		return nil, errors.New("namespace required")
	}
	return &KeyValueStore{db: db, namespace: namespace}, nil
}

func (s *KeyValueStore) DB() ServiceStorage {
	return s.db
}

func (s *KeyValueStore) Namespace() string {
	return s.namespace
}

// WatchKey returns the WatchKey to pass to Execute when key is read and written in a transaction.
func (s *KeyValueStore) WatchKey(key string) WatchKey {
	return WatchKey{Namespace: s.namespace, Key: key}
}

func (s *KeyValueStore) Fetch(ctx context.Context, key string, out any) error {
	data, err := s.db.Read(ctx, s.namespace, key)
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	return decode(key, data, out)
}

func (s *KeyValueStore) FetchTx(ctx context.Context, tx Tx, key string, out any) error {
	data, err := tx.Read(ctx, s.namespace, key)
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	return decode(key, data, out)
}

func decode(key string, data []byte, out any) error {
	if data == nil {
		return errors.Wrapf(ErrNotFound, "key %s", key)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "unmarshalling %s", key)
	}
	return nil
}

// Store writes value under key, failing with ErrAlreadyExists when the key is present.
func (s *KeyValueStore) Store(ctx context.Context, key string, value any) error {
	_, err := s.db.Execute(ctx, func(ctx context.Context, tx Tx) (any, error) {
		return nil, s.StoreTx(ctx, tx, key, value)
	}, []WatchKey{s.WatchKey(key)})
	return err
}

// StoreTx is Store inside a transaction. The caller must watch key.
func (s *KeyValueStore) StoreTx(ctx context.Context, tx Tx, key string, value any) error {
	existing, err := tx.Read(ctx, s.namespace, key)
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	if existing != nil {
		return errors.Wrapf(ErrAlreadyExists, "key %s", key)
	}
	return s.write(ctx, tx, key, value)
}

// Update replaces the value under key, failing with ErrNotFound when the key is absent.
func (s *KeyValueStore) Update(ctx context.Context, key string, value any) error {
	_, err := s.db.Execute(ctx, func(ctx context.Context, tx Tx) (any, error) {
		return nil, s.UpdateTx(ctx, tx, key, value)
	}, []WatchKey{s.WatchKey(key)})
	return err
}

// UpdateTx is Update inside a transaction. The caller must watch key.
func (s *KeyValueStore) UpdateTx(ctx context.Context, tx Tx, key string, value any) error {
	existing, err := tx.Read(ctx, s.namespace, key)
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	if existing == nil {
		return errors.Wrapf(ErrNotFound, "key %s", key)
	}
	return s.write(ctx, tx, key, value)
}

func (s *KeyValueStore) write(ctx context.Context, tx Tx, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshalling %s", key)
	}
	return tx.Write(ctx, s.namespace, key, data)
}

// FetchPrefix returns the raw JSON values of every key starting with prefix, usually MakeKey(scope, kind, "").
func (s *KeyValueStore) FetchPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	return s.db.ReadPrefix(ctx, s.namespace, prefix)
}
