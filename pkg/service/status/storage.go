package status

import (
	"context"

	"github.com/TBD54566975/ssi-sdk/credential"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	statusint "github.com/opsecid/traceability-service/internal/status"
	"github.com/opsecid/traceability-service/pkg/storage"
)

const (
	namespace = "status"

	listKind  = "statuslist"
	indexKind = "statusindex"
	urlKind   = "statusurl"
	urlScope  = "published"
)

// StoredStatusList is the signed list credential of one issuer and list type, along with what is needed to
// re-sign it after a bit flips.
type StoredStatusList struct {
	Issuer             string                           `json:"issuer"`
	Type               statusint.ListType               `json:"type"`
	Length             uint                             `json:"length"`
	URL                string                           `json:"url"`
	VerificationMethod string                           `json:"verificationMethod"`
	VerificationKey    string                           `json:"verificationKey"`
	Credential         *credential.VerifiableCredential `json:"credential"`
}

// publishedList maps a list URL back to the list it publishes.
type publishedList struct {
	Issuer string             `json:"issuer"`
	Type   statusint.ListType `json:"type"`
}

type Storage struct {
	kv *storage.KeyValueStore
}

func NewStatusStorage(db storage.ServiceStorage) (*Storage, error) {
	kv, err := storage.NewKeyValueStore(db, namespace)
	if err != nil {
		return nil, errors.Wrap(err, "creating status key value store")
	}
	return &Storage{kv: kv}, nil
}

func listKey(issuer string, t statusint.ListType) string {
	return storage.MakeKey(issuer, listKind, t.ID())
}

func indexKey(issuer string, t statusint.ListType) string {
	return storage.MakeKey(issuer, indexKind, t.ID())
}

func urlKey(listURL string) string {
	return storage.MakeKey(urlScope, urlKind, listURL)
}

func (s *Storage) listWatchKeys(issuer string, t statusint.ListType) []storage.WatchKey {
	return []storage.WatchKey{s.kv.WatchKey(listKey(issuer, t))}
}

func (s *Storage) indexWatchKeys(issuer string, t statusint.ListType) []storage.WatchKey {
	return []storage.WatchKey{s.kv.WatchKey(indexKey(issuer, t))}
}

// Execute runs fn as an optimistic transaction over watchKeys.
func (s *Storage) Execute(ctx context.Context, fn storage.BusinessLogicFunc, watchKeys []storage.WatchKey) (any, error) {
	return s.kv.DB().Execute(ctx, fn, watchKeys)
}

// CreateList stores a new list with an empty occupancy set and its URL. Nothing is written when any of the
// three already exists.
func (s *Storage) CreateList(ctx context.Context, list StoredStatusList) error {
	watchKeys := []storage.WatchKey{
		s.kv.WatchKey(listKey(list.Issuer, list.Type)),
		s.kv.WatchKey(indexKey(list.Issuer, list.Type)),
		s.kv.WatchKey(urlKey(list.URL)),
	}
	_, err := s.Execute(ctx, func(ctx context.Context, tx storage.Tx) (any, error) {
		if err := s.kv.StoreTx(ctx, tx, listKey(list.Issuer, list.Type), list); err != nil {
			return nil, err
		}
		if err := s.kv.StoreTx(ctx, tx, indexKey(list.Issuer, list.Type), []uint{}); err != nil {
			return nil, err
		}
		return nil, s.kv.StoreTx(ctx, tx, urlKey(list.URL), publishedList{Issuer: list.Issuer, Type: list.Type})
	}, watchKeys)
	return err
}

func (s *Storage) GetList(ctx context.Context, issuer string, t statusint.ListType) (*StoredStatusList, error) {
	var list StoredStatusList
	if err := s.kv.Fetch(ctx, listKey(issuer, t), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *Storage) GetListTx(ctx context.Context, tx storage.Tx, issuer string, t statusint.ListType) (*StoredStatusList, error) {
	var list StoredStatusList
	if err := s.kv.FetchTx(ctx, tx, listKey(issuer, t), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *Storage) UpdateListTx(ctx context.Context, tx storage.Tx, list StoredStatusList) error {
	return s.kv.UpdateTx(ctx, tx, listKey(list.Issuer, list.Type), list)
}

// ListLists returns every list of issuer.
func (s *Storage) ListLists(ctx context.Context, issuer string) ([]StoredStatusList, error) {
	values, err := s.kv.FetchPrefix(ctx, storage.MakeKey(issuer, listKind, ""))
	if err != nil {
		return nil, errors.Wrapf(err, "reading status lists of %s", issuer)
	}
	lists := make([]StoredStatusList, 0, len(values))
	for key, value := range values {
		var list StoredStatusList
		if err = json.Unmarshal(value, &list); err != nil {
			return nil, errors.Wrapf(err, "unmarshalling %s", key)
		}
		lists = append(lists, list)
	}
	return lists, nil
}

func (s *Storage) GetOccupancyTx(ctx context.Context, tx storage.Tx, issuer string, t statusint.ListType) ([]uint, error) {
	var indices []uint
	if err := s.kv.FetchTx(ctx, tx, indexKey(issuer, t), &indices); err != nil {
		return nil, err
	}
	return indices, nil
}

func (s *Storage) UpdateOccupancyTx(ctx context.Context, tx storage.Tx, issuer string, t statusint.ListType, indices []uint) error {
	return s.kv.UpdateTx(ctx, tx, indexKey(issuer, t), indices)
}

func (s *Storage) getPublished(ctx context.Context, listURL string) (*publishedList, error) {
	var published publishedList
	if err := s.kv.Fetch(ctx, urlKey(listURL), &published); err != nil {
		return nil, err
	}
	return &published, nil
}
