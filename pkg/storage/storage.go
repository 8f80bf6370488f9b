package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Type string

const (
	Bolt        Type = "bolt"
	Redis       Type = "redis"
	DatabaseSQL Type = "sql"
	Memory      Type = "memory"
)

type OptionKey string

type Option struct {
	ID     OptionKey `json:"id,omitempty"`
	Option any       `json:"option,omitempty"`
}

const (
	// TxMaxRetriesOption bounds the number of times Execute re-runs business logic after a conflicting write.
	TxMaxRetriesOption OptionKey = "tx-max-retries-option"

	DefaultTxMaxRetries = 10
)

var (
	// ErrConflict is returned by a single Execute attempt when one of the watched keys changed underneath it.
	ErrConflict = errors.New("watched key modified concurrently")
	// ErrConflictRetryExceeded is returned by Execute once every retry hit ErrConflict.
	ErrConflictRetryExceeded = errors.New("optimistic transaction retries exhausted")
)

// WatchKey names a value whose modification by a concurrent writer aborts the transaction.
type WatchKey struct {
	Namespace string
	Key       string
}

// Tx is handed to a BusinessLogicFunc. Reads observe the snapshot taken when the attempt started,
// plus any writes the function already made. Writes are applied only when the attempt commits.
type Tx interface {
	Read(ctx context.Context, namespace, key string) ([]byte, error)
	Write(ctx context.Context, namespace, key string, value []byte) error
}

// BusinessLogicFunc is run by Execute, possibly more than once, so it must not depend on side effects
// of a previous attempt.
type BusinessLogicFunc func(ctx context.Context, tx Tx) (any, error)

// ServiceStorage describes the api for storage independent of DB providers
type ServiceStorage interface {
	Init(opts ...Option) error
	Type() Type
	URI() string
	IsOpen() bool
	Close() error

	// Write stores the value, overwriting any existing value.
	Write(ctx context.Context, namespace, key string, value []byte) error
	// Read returns nil and no error when the key does not exist.
	Read(ctx context.Context, namespace, key string) ([]byte, error)
	Exists(ctx context.Context, namespace, key string) (bool, error)
	ReadAll(ctx context.Context, namespace string) (map[string][]byte, error)
	ReadPrefix(ctx context.Context, namespace, prefix string) (map[string][]byte, error)
	Delete(ctx context.Context, namespace, key string) error

	// Execute runs businessLogicFunc as an optimistic transaction over watchKeys. Writes made through the
	// Tx are committed atomically only if no watched key was modified since the attempt began; otherwise
	// the attempt is retried with backoff, returning ErrConflictRetryExceeded once retries run out.
	Execute(ctx context.Context, businessLogicFunc BusinessLogicFunc, watchKeys []WatchKey) (any, error)
}

var availableStorages map[Type]ServiceStorage

// RegisterStorage makes a storage provider available to NewStorage. Providers call it from init.
func RegisterStorage(storage ServiceStorage) error {
	if storage == nil {
		return errors.New("cannot register nil storage")
	}
	if availableStorages == nil {
		availableStorages = make(map[Type]ServiceStorage)
	}

	storageType := storage.Type()
	if IsStorageAvailable(storageType) {
		return fmt.Errorf("storage provider %s already registered", storageType)
	}
	availableStorages[storageType] = storage
	return nil
}

// NewStorage initializes a fresh instance of the requested provider.
func NewStorage(storageProvider Type, opts ...Option) (ServiceStorage, error) {
	registered, ok := availableStorages[storageProvider]
	if !ok {
		return nil, fmt.Errorf("unsupported storage provider: %s", storageProvider)
	}

	// registered instances are prototypes; never hand out the shared one
	storage, err := newInstance(registered.Type())
	if err != nil {
		return nil, err
	}
	if err = storage.Init(opts...); err != nil {
		return nil, errors.Wrapf(err, "initializing %s storage", storageProvider)
	}
	logrus.Debugf("initialized %s storage at <%s>", storageProvider, storage.URI())
	return storage, nil
}

func newInstance(t Type) (ServiceStorage, error) {
	switch t {
	case Bolt:
		return new(BoltDB), nil
	case Redis:
		return new(RedisDB), nil
	case DatabaseSQL:
		return new(SQLDB), nil
	case Memory:
		return new(MemoryDB), nil
	}
	return nil, fmt.Errorf("unsupported storage provider: %s", t)
}

func IsStorageAvailable(storage Type) bool {
	_, ok := availableStorages[storage]
	return ok
}

// Join combines a namespace and a key into a single flat key.
func Join(parts ...string) string {
	return strings.Join(parts, "-")
}

// txMaxRetries extracts TxMaxRetriesOption from opts, falling back to DefaultTxMaxRetries.
func txMaxRetries(opts []Option) (int, error) {
	for _, opt := range opts {
		if opt.ID != TxMaxRetriesOption {
			continue
		}
		switch v := opt.Option.(type) {
		case int:
			if v <= 0 {
				return 0, errors.New("tx max retries must be positive")
			}
			return v, nil
		case int64:
			if v <= 0 {
				return 0, errors.New("tx max retries must be positive")
			}
			return int(v), nil
		default:
			return 0, errors.New("tx max retries must be an int")
		}
	}
	return DefaultTxMaxRetries, nil
}
