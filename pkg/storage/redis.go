package storage

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func init() {
	if err := RegisterStorage(new(RedisDB)); err != nil {
		panic(err)
	}
}

const (
	NamespaceKeySeparator = "-"
	Pong                  = "PONG"
	RedisScanBatchSize    = 1000

	RedisAddressOption OptionKey = "redis-address-option"
	PasswordOption     OptionKey = "storage-password-option"

	pingTimeout = 2 * time.Second
)

type RedisDB struct {
	db         *goredislib.Client
	maxRetries int
}

func (r *RedisDB) Init(opts ...Option) error {
	address, password, err := processRedisOptions(opts...)
	if err != nil {
		return err
	}
	maxRetries, err := txMaxRetries(opts)
	if err != nil {
		return err
	}

	client := goredislib.NewClient(&goredislib.Options{
		Addr:     address,
		Password: password,
	})
	if err = redisotel.InstrumentTracing(client); err != nil {
		return errors.Wrap(err, "instrumenting redis tracing")
	}

	r.db = client
	r.maxRetries = maxRetries
	return nil
}

func processRedisOptions(opts ...Option) (address, password string, err error) {
	for _, opt := range opts {
		switch opt.ID {
		case RedisAddressOption:
			maybeAddress, ok := opt.Option.(string)
			if !ok {
				return "", "", errors.New("redis address must be a string")
			}
			address = maybeAddress
		case PasswordOption:
			maybePassword, ok := opt.Option.(string)
			if !ok {
				return "", "", errors.New("redis password must be a string")
			}
			password = maybePassword
		}
	}
	if address == "" {
		return "", "", errors.New("redis address must not be empty")
	}
	return address, password, nil
}

func (r *RedisDB) Type() Type {
	return Redis
}

func (r *RedisDB) URI() string {
	return r.db.Options().Addr
}

func (r *RedisDB) IsOpen() bool {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	pong, err := r.db.Ping(ctx).Result()
	if err != nil {
		logrus.WithError(err).Error("pinging redis")
		return false
	}
	return pong == Pong
}

func (r *RedisDB) Close() error {
	return r.db.Close()
}

func (r *RedisDB) Write(ctx context.Context, namespace, key string, value []byte) error {
	// Zero expiration means the key has no expiration time.
	return r.db.Set(ctx, getRedisKey(namespace, key), value, 0).Err()
}

func (r *RedisDB) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	return readRedisKey(ctx, r.db, getRedisKey(namespace, key))
}

type getter interface {
	Get(ctx context.Context, key string) *goredislib.StringCmd
}

func readRedisKey(ctx context.Context, c getter, redisKey string) ([]byte, error) {
	res, err := c.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, goredislib.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

func (r *RedisDB) Exists(ctx context.Context, namespace, key string) (bool, error) {
	n, err := r.db.Exists(ctx, getRedisKey(namespace, key)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisDB) ReadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	return r.ReadPrefix(ctx, namespace, "")
}

func (r *RedisDB) ReadPrefix(ctx context.Context, namespace, prefix string) (map[string][]byte, error) {
	keys, err := r.readAllKeys(ctx, escapeGlob(getRedisKey(namespace, prefix)))
	if err != nil {
		return nil, errors.Wrap(err, "read all keys error")
	}
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	values, err := r.db.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "getting multiple keys")
	}
	if len(keys) != len(values) {
		return nil, errors.New("key length does not match value length")
	}

	result := make(map[string][]byte, len(keys))
	trim := len(namespace) + len(NamespaceKeySeparator)
	for i, val := range values {
		// keys may be deleted between SCAN and MGET
		s, ok := val.(string)
		if !ok {
			continue
		}
		result[keys[i][trim:]] = []byte(s)
	}
	return result, nil
}

func (r *RedisDB) readAllKeys(ctx context.Context, match string) ([]string, error) {
	var cursor uint64
	allKeys := make([]string, 0)
	for {
		keys, nextCursor, err := r.db.Scan(ctx, cursor, match+"*", RedisScanBatchSize).Result()
		if err != nil {
			return nil, errors.Wrap(err, "scan error")
		}
		allKeys = append(allKeys, keys...)
		if nextCursor == 0 {
			break
		}
		cursor = nextCursor
	}
	return allKeys, nil
}

func (r *RedisDB) Delete(ctx context.Context, namespace, key string) error {
	return r.db.Del(ctx, getRedisKey(namespace, key)).Err()
}

type redisTx struct {
	tx      *goredislib.Tx
	pending map[string][]byte
	order   []string
}

func (t *redisTx) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	redisKey := getRedisKey(namespace, key)
	if v, ok := t.pending[redisKey]; ok {
		return v, nil
	}
	return readRedisKey(ctx, t.tx, redisKey)
}

func (t *redisTx) Write(_ context.Context, namespace, key string, value []byte) error {
	redisKey := getRedisKey(namespace, key)
	if _, ok := t.pending[redisKey]; !ok {
		t.order = append(t.order, redisKey)
	}
	t.pending[redisKey] = value
	return nil
}

// Execute uses WATCH/MULTI/EXEC. Reads inside the business logic go straight to redis while the watched
// keys are being watched; writes are queued and sent in a single MULTI block.
func (r *RedisDB) Execute(ctx context.Context, businessLogicFunc BusinessLogicFunc, watchKeys []WatchKey) (any, error) {
	keys := make([]string, 0, len(watchKeys))
	for _, wk := range watchKeys {
		keys = append(keys, getRedisKey(wk.Namespace, wk.Key))
	}

	return retryOnConflict(ctx, r.maxRetries, func() (any, error) {
		var finalOutput any
		txf := func(tx *goredislib.Tx) error {
			bTx := &redisTx{tx: tx, pending: make(map[string][]byte)}
			output, err := businessLogicFunc(ctx, bTx)
			if err != nil {
				return errors.Wrap(err, "executing business logic func")
			}
			if len(bTx.order) > 0 {
				_, err = tx.TxPipelined(ctx, func(pipe goredislib.Pipeliner) error {
					for _, k := range bTx.order {
						pipe.Set(ctx, k, bTx.pending[k], 0)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			finalOutput = output
			return nil
		}

		err := r.db.Watch(ctx, txf, keys...)
		if err != nil {
			if errors.Is(err, goredislib.TxFailedErr) {
				return nil, ErrConflict
			}
			return nil, err
		}
		return finalOutput, nil
	})
}

func getRedisKey(namespace, key string) string {
	return namespace + NamespaceKeySeparator + key
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}

var _ ServiceStorage = (*RedisDB)(nil)
