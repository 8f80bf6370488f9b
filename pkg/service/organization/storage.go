package organization

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/opsecid/traceability-service/pkg/storage"
)

const (
	namespace = "organization"

	orgScope = "organizations"
	orgKind  = "label"
)

type Storage struct {
	kv *storage.KeyValueStore
}

func NewOrganizationStorage(db storage.ServiceStorage) (*Storage, error) {
	kv, err := storage.NewKeyValueStore(db, namespace)
	if err != nil {
		return nil, errors.Wrap(err, "creating organization key value store")
	}
	return &Storage{kv: kv}, nil
}

func orgKey(label string) string {
	return storage.MakeKey(orgScope, orgKind, label)
}

// StoreOrganization fails with storage.ErrAlreadyExists when the label is taken.
func (s *Storage) StoreOrganization(ctx context.Context, org StoredOrganization) error {
	return s.kv.Store(ctx, orgKey(org.Label), org)
}

func (s *Storage) GetOrganization(ctx context.Context, label string) (*StoredOrganization, error) {
	var org StoredOrganization
	if err := s.kv.Fetch(ctx, orgKey(label), &org); err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *Storage) ListOrganizations(ctx context.Context) ([]StoredOrganization, error) {
	values, err := s.kv.FetchPrefix(ctx, storage.MakeKey(orgScope, orgKind, ""))
	if err != nil {
		return nil, errors.Wrap(err, "reading organizations")
	}
	orgs := make([]StoredOrganization, 0, len(values))
	for key, value := range values {
		var org StoredOrganization
		if err = json.Unmarshal(value, &org); err != nil {
			return nil, errors.Wrapf(err, "unmarshalling %s", key)
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}
