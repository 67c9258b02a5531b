// Package sqlite is the durable localstore backend. Records are stored as
// JSON rows with extracted index values in a side table, so the collection
// layout stays schema-driven rather than one table per entity.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"salepoint/terminal/internal/localstore"

	_ "modernc.org/sqlite"
)

type Store struct {
	mu     sync.Mutex
	schema localstore.Schema
	path   string
	db     *sql.DB
}

func New(path string, schema localstore.Schema) *Store {
	return &Store{schema: schema, path: path}
}

// Initialize opens the database file (creating it if absent) and applies the
// schema in a single transaction. Calling it on an open store is a no-op.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return &localstore.StorageError{Op: "open", Collection: "-", Err: err}
	}
	// The terminal is a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, s.schema.Version); err != nil {
		_ = db.Close()
		return &localstore.StorageError{Op: "migrate", Collection: "-", Err: err}
	}
	s.db = db
	return nil
}

func migrate(ctx context.Context, db *sql.DB, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin migration")
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			key        TEXT NOT NULL,
			data       TEXT NOT NULL,
			PRIMARY KEY (collection, key)
		)`,
		`CREATE TABLE IF NOT EXISTS index_entries (
			collection TEXT NOT NULL,
			idx        TEXT NOT NULL,
			value      TEXT NOT NULL,
			record_key TEXT NOT NULL,
			PRIMARY KEY (collection, idx, record_key)
		)`,
		`CREATE INDEX IF NOT EXISTS index_entries_lookup
			ON index_entries (collection, idx, value)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}

	var current sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_meta LIMIT 1`).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_meta (version) VALUES (?)`, version); err != nil {
			return errors.Wrap(err, "record schema version")
		}
	case err != nil:
		return errors.Wrap(err, "read schema version")
	case current.Int64 > int64(version):
		return errors.Errorf("database schema v%d is newer than supported v%d", current.Int64, version)
	case current.Int64 < int64(version):
		// Future migration steps run here, carrying prior data forward.
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET version = ?`, version); err != nil {
			return errors.Wrap(err, "bump schema version")
		}
	}

	return errors.Wrap(tx.Commit(), "commit migration")
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) Add(ctx context.Context, collection string, record any) (string, error) {
	c, db, err := s.collection(collection)
	if err != nil {
		return "", err
	}
	enc, err := localstore.Encode(c, record)
	if err != nil {
		return "", err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", s.storageErr("add", collection, enc.Key, err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE collection = ? AND key = ?`,
		collection, enc.Key).Scan(&exists)
	if err == nil {
		return "", localstore.ErrDuplicateKey
	}
	if err != sql.ErrNoRows {
		return "", s.storageErr("add", collection, enc.Key, err)
	}

	if err := checkUnique(ctx, tx, c, enc); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (collection, key, data) VALUES (?, ?, ?)`,
		collection, enc.Key, string(enc.Data)); err != nil {
		return "", s.storageErr("add", collection, enc.Key, err)
	}
	if err := writeIndexEntries(ctx, tx, collection, enc); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", s.storageErr("add", collection, enc.Key, err)
	}
	return enc.Key, nil
}

func (s *Store) Get(ctx context.Context, collection, key string) (json.RawMessage, error) {
	_, db, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	var data string
	err = db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE collection = ? AND key = ?`,
		collection, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, localstore.ErrNotFound
	}
	if err != nil {
		return nil, s.storageErr("get", collection, key, err)
	}
	return json.RawMessage(data), nil
}

func (s *Store) Update(ctx context.Context, collection string, record any) error {
	c, db, err := s.collection(collection)
	if err != nil {
		return err
	}
	enc, err := localstore.Encode(c, record)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageErr("update", collection, enc.Key, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := checkUnique(ctx, tx, c, enc); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (collection, key, data) VALUES (?, ?, ?)
		 ON CONFLICT (collection, key) DO UPDATE SET data = excluded.data`,
		collection, enc.Key, string(enc.Data)); err != nil {
		return s.storageErr("update", collection, enc.Key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_entries WHERE collection = ? AND record_key = ?`,
		collection, enc.Key); err != nil {
		return s.storageErr("update", collection, enc.Key, err)
	}
	if err := writeIndexEntries(ctx, tx, collection, enc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.storageErr("update", collection, enc.Key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	_, db, err := s.collection(collection)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return s.storageErr("delete", collection, key, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND key = ?`,
		collection, key); err != nil {
		return s.storageErr("delete", collection, key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM index_entries WHERE collection = ? AND record_key = ?`,
		collection, key); err != nil {
		return s.storageErr("delete", collection, key, err)
	}
	return s.wrapCommit("delete", collection, key, tx.Commit())
}

func (s *Store) GetAll(ctx context.Context, collection string) ([]json.RawMessage, error) {
	_, db, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT data FROM records WHERE collection = ? ORDER BY key`,
		collection)
	if err != nil {
		return nil, s.storageErr("get_all", collection, "", err)
	}
	return collectRows(rows, s, "get_all", collection)
}

func (s *Store) GetByIndex(ctx context.Context, collection, index, value string) (json.RawMessage, error) {
	raws, err := s.GetAllByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, err
	}
	switch len(raws) {
	case 0:
		return nil, localstore.ErrNotFound
	case 1:
		return raws[0], nil
	default:
		return nil, &localstore.StorageError{
			Op: "get_by_index", Collection: collection, Key: value,
			Err: localstore.ErrDuplicateKey,
		}
	}
}

func (s *Store) GetAllByIndex(ctx context.Context, collection, index, value string) ([]json.RawMessage, error) {
	c, db, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if !hasIndex(c, index) {
		return nil, localstore.ErrUnknownIndex
	}
	rows, err := db.QueryContext(ctx,
		`SELECT r.data FROM index_entries i
		 JOIN records r ON r.collection = i.collection AND r.key = i.record_key
		 WHERE i.collection = ? AND i.idx = ? AND i.value = ?
		 ORDER BY i.record_key`,
		collection, index, value)
	if err != nil {
		return nil, s.storageErr("get_all_by_index", collection, value, err)
	}
	return collectRows(rows, s, "get_all_by_index", collection)
}

func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	_, db, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, s.storageErr("count", collection, "", err)
	}
	return n, nil
}

func (s *Store) collection(name string) (localstore.Collection, *sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return localstore.Collection{}, nil, localstore.ErrClosed
	}
	c, ok := s.schema.Lookup(name)
	if !ok {
		return localstore.Collection{}, nil, localstore.ErrUnknownCollection
	}
	return c, db, nil
}

func (s *Store) storageErr(op, collection, key string, err error) error {
	return &localstore.StorageError{Op: op, Collection: collection, Key: key, Err: err}
}

func (s *Store) wrapCommit(op, collection, key string, err error) error {
	if err != nil {
		return s.storageErr(op, collection, key, errors.Wrap(err, "commit"))
	}
	return nil
}

// checkUnique runs inside the mutation's transaction so the uniqueness read
// and the write cannot interleave with another writer.
func checkUnique(ctx context.Context, tx *sql.Tx, c localstore.Collection, enc localstore.EncodedRecord) error {
	for _, idx := range c.Indexes {
		if !idx.Unique {
			continue
		}
		value, ok := enc.Indexed[idx.Name]
		if !ok {
			continue
		}
		var holder string
		err := tx.QueryRowContext(ctx,
			`SELECT record_key FROM index_entries
			 WHERE collection = ? AND idx = ? AND value = ? AND record_key != ?
			 LIMIT 1`,
			c.Name, idx.Name, value, enc.Key).Scan(&holder)
		if err == nil {
			return localstore.ErrDuplicateKey
		}
		if err != sql.ErrNoRows {
			return &localstore.StorageError{Op: "check_unique", Collection: c.Name, Key: enc.Key, Err: err}
		}
	}
	return nil
}

func hasIndex(c localstore.Collection, name string) bool {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

func writeIndexEntries(ctx context.Context, tx *sql.Tx, collection string, enc localstore.EncodedRecord) error {
	for idx, value := range enc.Indexed {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO index_entries (collection, idx, value, record_key) VALUES (?, ?, ?, ?)`,
			collection, idx, value, enc.Key); err != nil {
			return &localstore.StorageError{Op: "index", Collection: collection, Key: enc.Key, Err: err}
		}
	}
	return nil
}

func collectRows(rows *sql.Rows, s *Store, op, collection string) ([]json.RawMessage, error) {
	defer func() { _ = rows.Close() }()
	var out []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, s.storageErr(op, collection, "", err)
		}
		out = append(out, json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, s.storageErr(op, collection, "", err)
	}
	if out == nil {
		out = []json.RawMessage{}
	}
	return out, nil
}

var _ localstore.Store = (*Store)(nil)
