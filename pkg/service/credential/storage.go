package credential

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/opsecid/traceability-service/pkg/storage"
)

const (
	namespace      = "credential"
	credentialKind = "credential"
)

type Storage struct {
	kv *storage.KeyValueStore
}

func NewCredentialStorage(db storage.ServiceStorage) (*Storage, error) {
	kv, err := storage.NewKeyValueStore(db, namespace)
	if err != nil {
		return nil, errors.Wrap(err, "creating credential key value store")
	}
	return &Storage{kv: kv}, nil
}

func credentialKey(label, id string) string {
	return storage.MakeKey(label, credentialKind, id)
}

// StoreCredential fails with storage.ErrAlreadyExists when the organization already issued a credential with
// the same id.
func (s *Storage) StoreCredential(ctx context.Context, cred StoredCredential) error {
	return s.kv.Store(ctx, credentialKey(cred.Label, cred.ID), cred)
}

func (s *Storage) GetCredential(ctx context.Context, label, id string) (*StoredCredential, error) {
	var cred StoredCredential
	if err := s.kv.Fetch(ctx, credentialKey(label, id), &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *Storage) ListCredentials(ctx context.Context, label string) ([]StoredCredential, error) {
	values, err := s.kv.FetchPrefix(ctx, credentialKey(label, ""))
	if err != nil {
		return nil, errors.Wrapf(err, "reading credentials of %s", label)
	}
	creds := make([]StoredCredential, 0, len(values))
	for key, value := range values {
		var cred StoredCredential
		if err = json.Unmarshal(value, &cred); err != nil {
			return nil, errors.Wrapf(err, "unmarshalling %s", key)
		}
		creds = append(creds, cred)
	}
	return creds, nil
}
