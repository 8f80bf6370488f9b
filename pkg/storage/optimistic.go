package storage

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
)

// snapshotStore is implemented by providers with no native optimistic transaction. Such providers get
// Execute by snapshotting the watched keys and compare-and-applying the buffered writes at commit.
type snapshotStore interface {
	Read(ctx context.Context, namespace, key string) ([]byte, error)
	// commitIfUnchanged atomically applies writes if every key in expected still holds its expected
	// value (nil meaning absent), and returns ErrConflict otherwise.
	commitIfUnchanged(ctx context.Context, expected map[WatchKey][]byte, writes []pendingWrite) error
}

type pendingWrite struct {
	WatchKey
	value []byte
}

type snapshotTx struct {
	store    snapshotStore
	snapshot map[WatchKey][]byte
	writes   []pendingWrite
	written  map[WatchKey]int
}

func (t *snapshotTx) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	wk := WatchKey{Namespace: namespace, Key: key}
	if i, ok := t.written[wk]; ok {
		return bytes.Clone(t.writes[i].value), nil
	}
	if v, ok := t.snapshot[wk]; ok {
		return bytes.Clone(v), nil
	}
	return t.store.Read(ctx, namespace, key)
}

func (t *snapshotTx) Write(_ context.Context, namespace, key string, value []byte) error {
	if namespace == "" {
		return errors.New("namespace required")
	}
	if key == "" {
		return errors.New("key required")
	}
	wk := WatchKey{Namespace: namespace, Key: key}
	if i, ok := t.written[wk]; ok {
		t.writes[i].value = bytes.Clone(value)
		return nil
	}
	t.written[wk] = len(t.writes)
	t.writes = append(t.writes, pendingWrite{WatchKey: wk, value: bytes.Clone(value)})
	return nil
}

func executeOptimistic(ctx context.Context, store snapshotStore, maxRetries int, businessLogicFunc BusinessLogicFunc, watchKeys []WatchKey) (any, error) {
	return retryOnConflict(ctx, maxRetries, func() (any, error) {
		snapshot := make(map[WatchKey][]byte, len(watchKeys))
		for _, wk := range watchKeys {
			v, err := store.Read(ctx, wk.Namespace, wk.Key)
			if err != nil {
				return nil, errors.Wrapf(err, "reading watched key %s", Join(wk.Namespace, wk.Key))
			}
			snapshot[wk] = v
		}

		tx := &snapshotTx{store: store, snapshot: snapshot, written: make(map[WatchKey]int)}
		result, err := businessLogicFunc(ctx, tx)
		if err != nil {
			return nil, errors.Wrap(err, "executing business logic func")
		}
		if len(tx.writes) == 0 {
			return result, nil
		}
		if err = store.commitIfUnchanged(ctx, snapshot, tx.writes); err != nil {
			return nil, err
		}
		return result, nil
	})
}
