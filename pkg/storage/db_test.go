package storage

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/opsecid/traceability-service/pkg/encryption"
)

// postgres tests download binaries, so they only run when asked for
const postgresEnvSwitch = "TEST_EMBEDDED_POSTGRES"

func getDBImplementations(t *testing.T, opts ...Option) []ServiceStorage {
	dbImpls := make([]ServiceStorage, 0)

	memoryDB := setupMemoryDB(t, opts...)
	dbImpls = append(dbImpls, memoryDB)

	boltDB := setupBoltDB(t, opts...)
	dbImpls = append(dbImpls, boltDB)

	redisDB := setupRedisDB(t, opts...)
	dbImpls = append(dbImpls, redisDB)

	if os.Getenv(postgresEnvSwitch) != "" {
		dbImpls = append(dbImpls, setupPostgresDB(t, opts...))
	}

	key := make([]byte, 32)
	dbImpls = append(dbImpls, NewEncryptedWrapper(
		setupBoltDB(t, opts...),
		encryption.NewXChaCha20Poly1305EncrypterWithKey(key),
		encryption.NewXChaCha20Poly1305EncrypterWithKey(key),
	))

	return dbImpls
}

func setupMemoryDB(t *testing.T, opts ...Option) ServiceStorage {
	db, err := NewStorage(Memory, opts...)
	require.NoError(t, err)
	return db
}

func setupBoltDB(t *testing.T, opts ...Option) ServiceStorage {
	dbName := filepath.Join(t.TempDir(), "test.db")
	db, err := NewStorage(Bolt, append(opts, Option{
		ID:     BoltDBFilePathOption,
		Option: dbName,
	})...)
	require.NoError(t, err)
	require.NotEmpty(t, db)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func setupPostgresDB(t *testing.T, opts ...Option) ServiceStorage {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	scalar := make([]byte, 32)
	_, err = rand.Read(scalar)
	require.NoError(t, err)

	randomDir := strconv.Itoa(int(binary.BigEndian.Uint32(scalar)))
	postgres := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		BinariesPath(filepath.Join(homeDir, ".embedded-postgres-go", "tmpBin")).
		DataPath(filepath.Join(os.TempDir(), ".embedded-postgres-go", "data", randomDir)).
		RuntimePath(filepath.Join(os.TempDir(), ".embedded-postgres-go", "runtime", randomDir)))
	err = postgres.Start()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = postgres.Stop()
	})

	options := append(opts,
		Option{
			ID:     SQLConnectionString,
			Option: "host=localhost port=5432 user=postgres password=postgres dbname=postgres sslmode=disable",
		},
		Option{
			ID:     SQLDriverName,
			Option: "postgres",
		},
	)
	s, err := NewStorage(DatabaseSQL, options...)
	require.NoError(t, err)
	return s
}

func setupRedisDB(t *testing.T, opts ...Option) ServiceStorage {
	server := miniredis.RunT(t)
	options := append(opts,
		Option{
			ID:     RedisAddressOption,
			Option: server.Addr(),
		},
	)
	db, err := NewStorage(Redis, options...)
	require.NoError(t, err)
	require.NotEmpty(t, db)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestNewStorage(t *testing.T) {
	t.Run("unknown provider", func(tt *testing.T) {
		_, err := NewStorage("carrier-pigeon")
		assert.Error(tt, err)
		assert.Contains(tt, err.Error(), "unsupported storage provider")
	})

	t.Run("bad retries option", func(tt *testing.T) {
		_, err := NewStorage(Memory, Option{ID: TxMaxRetriesOption, Option: "ten"})
		assert.Error(tt, err)
	})

	t.Run("redis without address", func(tt *testing.T) {
		_, err := NewStorage(Redis)
		assert.Error(tt, err)
		assert.Contains(tt, err.Error(), "redis address must not be empty")
	})

	t.Run("instances are independent", func(tt *testing.T) {
		first := setupMemoryDB(tt)
		second := setupMemoryDB(tt)
		require.NoError(tt, first.Write(context.Background(), "ns", "k", []byte("v")))

		got, err := second.Read(context.Background(), "ns", "k")
		assert.NoError(tt, err)
		assert.Nil(tt, got)
	})
}

func TestDB(t *testing.T) {
	for _, dbImpl := range getDBImplementations(t) {
		db := dbImpl

		// create a name space and a message in it
		namespace := "F1"

		team1 := "Red Bull"
		players1 := []string{"Max Verstappen", "Sergio Perez"}
		p1Bytes, err := json.Marshal(players1)
		assert.NoError(t, err)

		err = db.Write(context.Background(), namespace, team1, p1Bytes)
		assert.NoError(t, err)

		// get it back
		gotPlayers1, err := db.Read(context.Background(), namespace, team1)
		assert.NoError(t, err)

		var players1Result []string
		err = json.Unmarshal(gotPlayers1, &players1Result)
		assert.NoError(t, err)
		assert.EqualValues(t, players1, players1Result)

		// get a value from a namespace that doesn't exist
		res, err := db.Read(context.Background(), "bad", "worse")
		assert.NoError(t, err)
		assert.Empty(t, res)

		// get a value that doesn't exist in the namespace
		noValue, err := db.Read(context.Background(), namespace, "Porsche")
		assert.NoError(t, err)
		assert.Empty(t, noValue)

		// create a second value in the namespace
		team2 := "McLaren"
		players2 := []string{"Lando Norris", "Oscar Piastri"}
		p2Bytes, err := json.Marshal(players2)
		assert.NoError(t, err)

		err = db.Write(context.Background(), namespace, team2, p2Bytes)
		assert.NoError(t, err)

		// get all values from the namespace
		gotAll, err := db.ReadAll(context.Background(), namespace)
		assert.NoError(t, err)
		assert.Len(t, gotAll, 2)

		_, gotRedBull := gotAll[team1]
		assert.True(t, gotRedBull)

		_, gotMcLaren := gotAll[team2]
		assert.True(t, gotMcLaren)

		// overwrite
		err = db.Write(context.Background(), namespace, team2, p1Bytes)
		assert.NoError(t, err)
		gotPlayers2, err := db.Read(context.Background(), namespace, team2)
		assert.NoError(t, err)
		assert.Equal(t, p1Bytes, gotPlayers2)

		// delete value in the namespace
		err = db.Delete(context.Background(), namespace, team2)
		assert.NoError(t, err)

		gotPlayers2, err = db.Read(context.Background(), namespace, team2)
		assert.NoError(t, err)
		assert.Empty(t, gotPlayers2)

		exists, err := db.Exists(context.Background(), namespace, team2)
		assert.NoError(t, err)
		assert.False(t, exists)

		exists, err = db.Exists(context.Background(), namespace, team1)
		assert.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestDBPrefix(t *testing.T) {
	for _, dbImpl := range getDBImplementations(t) {
		db := dbImpl

		namespace := "blockchains"

		dummyData := []byte("dummy")
		for _, key := range []string{"bitcoin-testnet", "bitcoin-mainnet", "tezos-testnet", "tezos-mainnet"} {
			require.NoError(t, db.Write(context.Background(), namespace, key, dummyData))
		}
		// same prefix in a different namespace must not leak in
		require.NoError(t, db.Write(context.Background(), "blockchains-other", "bitcoin-regtest", dummyData))

		prefixValues, err := db.ReadPrefix(context.Background(), namespace, "bitcoin")
		assert.NoError(t, err)
		assert.Len(t, prefixValues, 2)
		assert.Contains(t, prefixValues, "bitcoin-testnet")
		assert.Contains(t, prefixValues, "bitcoin-mainnet")
		assert.Equal(t, dummyData, prefixValues["bitcoin-mainnet"])

		// glob and LIKE metacharacters are literal
		prefixValues, err = db.ReadPrefix(context.Background(), namespace, "bit*")
		assert.NoError(t, err)
		assert.Empty(t, prefixValues)

		prefixValues, err = db.ReadPrefix(context.Background(), namespace, "bit%")
		assert.NoError(t, err)
		assert.Empty(t, prefixValues)
	}
}

func TestDBEmptyNamespace(t *testing.T) {
	for _, dbImpl := range getDBImplementations(t) {
		db := dbImpl

		namespace := "dne"
		key := "doesnotexist"

		prefixValues, err := db.ReadPrefix(context.Background(), namespace, key)
		assert.NoError(t, err)
		assert.Len(t, prefixValues, 0)

		allValues, err := db.ReadAll(context.Background(), namespace)
		assert.NoError(t, err)
		assert.Len(t, allValues, 0)

		value, err := db.Read(context.Background(), namespace, key)
		assert.NoError(t, err)
		assert.Nil(t, value)

		exists, err := db.Exists(context.Background(), namespace, key)
		assert.NoError(t, err)
		assert.False(t, exists)
	}
}

func TestDB_Execute(t *testing.T) {
	for _, dbImpl := range getDBImplementations(t) {
		db := dbImpl

		t.Run(string(db.Type())+" writes are applied", func(tt *testing.T) {
			_, err := db.Execute(context.Background(), func(ctx context.Context, tx Tx) (any, error) {
				return nil, tx.Write(ctx, "hello", "my_key", []byte(`some bytes`))
			}, nil)
			assert.NoError(tt, err)
			result, err := db.Read(context.Background(), "hello", "my_key")
			assert.NoError(tt, err)
			assert.Equal(tt, []byte(`some bytes`), result)
		})

		t.Run(string(db.Type())+" reads see own writes", func(tt *testing.T) {
			got, err := db.Execute(context.Background(), func(ctx context.Context, tx Tx) (any, error) {
				if err := tx.Write(ctx, "hello", "read_own", []byte(`first`)); err != nil {
					return nil, err
				}
				return tx.Read(ctx, "hello", "read_own")
			}, []WatchKey{{Namespace: "hello", Key: "read_own"}})
			assert.NoError(tt, err)
			assert.Equal(tt, []byte(`first`), got)
		})

		t.Run(string(db.Type())+" business logic errors are not retried", func(tt *testing.T) {
			var calls int32
			boom := errors.New("boom")
			_, err := db.Execute(context.Background(), func(ctx context.Context, tx Tx) (any, error) {
				atomic.AddInt32(&calls, 1)
				if err := tx.Write(ctx, "hello", "never", []byte(`x`)); err != nil {
					return nil, err
				}
				return nil, boom
			}, []WatchKey{{Namespace: "hello", Key: "never"}})
			assert.ErrorIs(tt, err, boom)
			assert.EqualValues(tt, 1, atomic.LoadInt32(&calls))

			exists, err := db.Exists(context.Background(), "hello", "never")
			assert.NoError(tt, err)
			assert.False(tt, exists)
		})
	}
}

func TestDB_ExecuteConflicts(t *testing.T) {
	t.Run("interleaved writer exhausts retries", func(tt *testing.T) {
		for _, dbImpl := range getDBImplementations(tt, Option{ID: TxMaxRetriesOption, Option: 2}) {
			db := dbImpl
			require.NoError(tt, db.Write(context.Background(), "counter", "value", []byte("0")))

			var calls int32
			_, err := db.Execute(context.Background(), func(ctx context.Context, tx Tx) (any, error) {
				n := atomic.AddInt32(&calls, 1)
				if _, err := tx.Read(ctx, "counter", "value"); err != nil {
					return nil, err
				}
				// a writer outside the transaction modifies the watched key every time
				if err := db.Write(ctx, "counter", "value", []byte(strconv.Itoa(int(n)))); err != nil {
					return nil, err
				}
				return nil, tx.Write(ctx, "counter", "value", []byte("-1"))
			}, []WatchKey{{Namespace: "counter", Key: "value"}})
			assert.ErrorIs(tt, err, ErrConflictRetryExceeded, db.Type())
			assert.EqualValues(tt, 3, atomic.LoadInt32(&calls), db.Type())

			got, err := db.Read(context.Background(), "counter", "value")
			assert.NoError(tt, err)
			assert.Equal(tt, []byte("3"), got, db.Type())
		}
	})

	t.Run("concurrent increments are never lost", func(tt *testing.T) {
		const writers = 8
		for _, dbImpl := range getDBImplementations(tt, Option{ID: TxMaxRetriesOption, Option: 4 * writers}) {
			db := dbImpl
			require.NoError(tt, db.Write(context.Background(), "counter", "value", []byte("0")))

			var group errgroup.Group
			for i := 0; i < writers; i++ {
				group.Go(func() error {
					_, err := db.Execute(context.Background(), func(ctx context.Context, tx Tx) (any, error) {
						current, err := tx.Read(ctx, "counter", "value")
						if err != nil {
							return nil, err
						}
						n, err := strconv.Atoi(string(current))
						if err != nil {
							return nil, err
						}
						return nil, tx.Write(ctx, "counter", "value", []byte(strconv.Itoa(n+1)))
					}, []WatchKey{{Namespace: "counter", Key: "value"}})
					return err
				})
			}
			require.NoError(tt, group.Wait(), db.Type())

			got, err := db.Read(context.Background(), "counter", "value")
			assert.NoError(tt, err)
			assert.Equal(tt, strconv.Itoa(writers), string(got), db.Type())
		}
	})

	t.Run("absent watched key created concurrently", func(tt *testing.T) {
		for _, dbImpl := range getDBImplementations(tt, Option{ID: TxMaxRetriesOption, Option: 1}) {
			db := dbImpl
			var calls int32
			_, err := db.Execute(context.Background(), func(ctx context.Context, tx Tx) (any, error) {
				atomic.AddInt32(&calls, 1)
				existing, err := tx.Read(ctx, "lists", "fresh")
				if err != nil {
					return nil, err
				}
				if existing != nil {
					return nil, ErrAlreadyExists
				}
				if err = db.Write(ctx, "lists", "fresh", []byte("theirs")); err != nil {
					return nil, err
				}
				return nil, tx.Write(ctx, "lists", "fresh", []byte("ours"))
			}, []WatchKey{{Namespace: "lists", Key: "fresh"}})
			assert.ErrorIs(tt, err, ErrAlreadyExists, db.Type())
			assert.EqualValues(tt, 2, atomic.LoadInt32(&calls), db.Type())

			got, err := db.Read(context.Background(), "lists", "fresh")
			assert.NoError(tt, err)
			assert.Equal(tt, []byte("theirs"), got, db.Type())
		}
	})
}
