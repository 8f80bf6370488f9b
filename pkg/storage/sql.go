package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"strings"

	// We include the postresql driver in our implementation, so users can pick "postgres" via configuration.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func init() {
	if err := RegisterStorage(new(SQLDB)); err != nil {
		panic(err)
	}
}

const (
	SQLConnectionString OptionKey = "sql-connection-string-option"
	SQLDriverName       OptionKey = "sql-driver-name-option"
)

type SQLDB struct {
	db               *sql.DB
	connectionString string
	maxRetries       int
}

func (s *SQLDB) Init(opts ...Option) error {
	connString, sqlDriverName, err := processSQLOptions(opts...)
	if err != nil {
		return err
	}
	maxRetries, err := txMaxRetries(opts)
	if err != nil {
		return err
	}
	s.connectionString = connString
	s.maxRetries = maxRetries

	db, err := sql.Open(sqlDriverName, connString)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS key_values (
    key varchar PRIMARY KEY,
    value varchar NOT NULL
);`)
	if err != nil {
		return errors.Wrap(err, "creating key_values table")
	}

	s.db = db
	return nil
}

func processSQLOptions(opts ...Option) (connString string, sqlDriverName string, err error) {
	for _, opt := range opts {
		switch opt.ID {
		case SQLConnectionString:
			maybeConnString, ok := opt.Option.(string)
			if !ok {
				err = errors.New("sql connection string must be a string")
				return
			}
			connString = maybeConnString
		case SQLDriverName:
			maybeDriverName, ok := opt.Option.(string)
			if !ok {
				err = errors.New("sql driver name must be a string")
				return
			}
			sqlDriverName = maybeDriverName
		}
	}
	if len(connString) == 0 || len(sqlDriverName) == 0 {
		err = errors.New("sql connection string and driver name must not be empty")
		return
	}
	return connString, sqlDriverName, nil
}

func (s *SQLDB) Type() Type {
	return DatabaseSQL
}

func (s *SQLDB) URI() string {
	return s.connectionString
}

func (s *SQLDB) IsOpen() bool {
	err := s.db.Ping()
	if err != nil {
		logrus.WithError(err).Error("pinging db")
		return false
	}
	return true
}

func (s *SQLDB) Close() error {
	return s.db.Close()
}

type ExecContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type QueryRow interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLDB) Write(ctx context.Context, namespace, key string, value []byte) error {
	return upsert(ctx, s.db, Join(namespace, key), value)
}

func upsert(ctx context.Context, db ExecContext, flatKey string, value []byte) error {
	_, err := db.ExecContext(ctx, "INSERT INTO key_values (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		flatKey, base64.RawStdEncoding.EncodeToString(value))
	return err
}

func (s *SQLDB) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	return read(ctx, s.db, "SELECT value FROM key_values WHERE key = $1", Join(namespace, key))
}

func read(ctx context.Context, db QueryRow, query, flatKey string) ([]byte, error) {
	var value string
	if err := db.QueryRowContext(ctx, query, flatKey).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return base64.RawStdEncoding.DecodeString(value)
}

func (s *SQLDB) Exists(ctx context.Context, namespace, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM key_values WHERE key = $1)", Join(namespace, key)).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *SQLDB) ReadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	return s.ReadPrefix(ctx, namespace, "")
}

func (s *SQLDB) ReadPrefix(ctx context.Context, namespace, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM key_values WHERE key LIKE $1 ESCAPE '\'`, escapeLike(Join(namespace, prefix))+"%")
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			logrus.WithError(err).Error("closing rows")
		}
	}(rows)

	allValues := make(map[string][]byte)
	for rows.Next() {
		var key, value string
		if err = rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		decoded, err := base64.RawStdEncoding.DecodeString(value)
		if err != nil {
			return nil, err
		}
		allValues[key[len(namespace)+1:]] = decoded
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return allValues, nil
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeReplacer.Replace(s)
}

func (s *SQLDB) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM key_values WHERE key = $1", Join(namespace, key))
	return err
}

func (s *SQLDB) Execute(ctx context.Context, businessLogicFunc BusinessLogicFunc, watchKeys []WatchKey) (any, error) {
	return executeOptimistic(ctx, s, s.maxRetries, businessLogicFunc, watchKeys)
}

// commitIfUnchanged locks the rows of watched keys that exist. Watched keys that were absent are
// inserted with ON CONFLICT DO NOTHING so a concurrent insert is detected by the affected row count.
func (s *SQLDB) commitIfUnchanged(ctx context.Context, expected map[WatchKey][]byte, writes []pendingWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			logrus.WithError(err).Error("unable to rollback")
		}
	}(tx)

	mustInsert := make(map[WatchKey]bool)
	for wk, want := range expected {
		current, err := read(ctx, tx, "SELECT value FROM key_values WHERE key = $1 FOR UPDATE", Join(wk.Namespace, wk.Key))
		if err != nil {
			return err
		}
		if (current == nil) != (want == nil) || !bytes.Equal(current, want) {
			return ErrConflict
		}
		if want == nil {
			mustInsert[wk] = true
		}
	}

	for _, w := range writes {
		flatKey := Join(w.Namespace, w.Key)
		if !mustInsert[w.WatchKey] {
			if err = upsert(ctx, tx, flatKey, w.value); err != nil {
				return err
			}
			continue
		}
		res, err := tx.ExecContext(ctx, "INSERT INTO key_values (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING",
			flatKey, base64.RawStdEncoding.EncodeToString(w.value))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrConflict
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

var _ ServiceStorage = (*SQLDB)(nil)
