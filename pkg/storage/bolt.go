package storage

import (
	"bytes"
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

func init() {
	if err := RegisterStorage(new(BoltDB)); err != nil {
		panic(err)
	}
}

const (
	DBFilePrefix = "traceability-service"

	BoltDBFilePathOption OptionKey = "bolt-db-filepath-option"
)

type BoltDB struct {
	db         *bolt.DB
	maxRetries int
}

// Init instantiates a file-based storage instance for Bolt https://github.com/etcd-io/bbolt
func (b *BoltDB) Init(opts ...Option) error {
	if b.db != nil {
		return errors.New("bolt db already initialized")
	}

	dbFilePath := DBFilePrefix + "_bolt.db"
	for _, opt := range opts {
		if opt.ID != BoltDBFilePathOption {
			continue
		}
		path, ok := opt.Option.(string)
		if !ok {
			return errors.New("bolt db file path must be a string")
		}
		if path != "" {
			dbFilePath = path
		}
	}
	maxRetries, err := txMaxRetries(opts)
	if err != nil {
		return err
	}

	db, err := bolt.Open(dbFilePath, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return errors.Wrapf(err, "opening bolt db at %s", dbFilePath)
	}
	b.db = db
	b.maxRetries = maxRetries
	return nil
}

func (b *BoltDB) Type() Type {
	return Bolt
}

func (b *BoltDB) URI() string {
	return b.db.Path()
}

func (b *BoltDB) IsOpen() bool {
	if b.db == nil {
		return false
	}
	return b.db.Path() != ""
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) Write(_ context.Context, namespace string, key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return putInBucket(tx, namespace, key, value)
	})
}

func putInBucket(tx *bolt.Tx, namespace, key string, value []byte) error {
	bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
	if err != nil {
		return errors.Wrapf(err, "creating bucket<%s>", namespace)
	}
	return bucket.Put([]byte(key), value)
}

func (b *BoltDB) Read(_ context.Context, namespace, key string) ([]byte, error) {
	var result []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			logrus.Debugf("namespace<%s> does not exist", namespace)
			return nil
		}
		// values are only valid for the life of the transaction
		result = bytes.Clone(bucket.Get([]byte(key)))
		return nil
	})
	return result, err
}

func (b *BoltDB) Exists(ctx context.Context, namespace, key string) (bool, error) {
	v, err := b.Read(ctx, namespace, key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

func (b *BoltDB) ReadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	return b.ReadPrefix(ctx, namespace, "")
}

func (b *BoltDB) ReadPrefix(_ context.Context, namespace, prefix string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			logrus.Debugf("namespace<%s> does not exist", namespace)
			return nil
		}
		cursor := bucket.Cursor()
		p := []byte(prefix)
		for k, v := cursor.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = cursor.Next() {
			result[string(k)] = bytes.Clone(v)
		}
		return nil
	})
	return result, err
}

func (b *BoltDB) Delete(_ context.Context, namespace, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return errors.Errorf("namespace<%s> does not exist", namespace)
		}
		return bucket.Delete([]byte(key))
	})
}

func (b *BoltDB) Execute(ctx context.Context, businessLogicFunc BusinessLogicFunc, watchKeys []WatchKey) (any, error) {
	return executeOptimistic(ctx, b, b.maxRetries, businessLogicFunc, watchKeys)
}

// commitIfUnchanged relies on bolt allowing a single read-write transaction at a time.
func (b *BoltDB) commitIfUnchanged(_ context.Context, expected map[WatchKey][]byte, writes []pendingWrite) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for wk, want := range expected {
			var current []byte
			if bucket := tx.Bucket([]byte(wk.Namespace)); bucket != nil {
				current = bucket.Get([]byte(wk.Key))
			}
			if (current == nil) != (want == nil) || !bytes.Equal(current, want) {
				return ErrConflict
			}
		}
		for _, w := range writes {
			if err := putInBucket(tx, w.Namespace, w.Key, w.value); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ ServiceStorage = (*BoltDB)(nil)
