// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sqldb stores wallet change-sets in a SQL database. SQLite and
// PostgreSQL are supported.
package sqldb

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

// Backend identifies the SQL dialect of a database.
type Backend uint8

const (
	// SQLite is a database opened with the "sqlite" driver.
	SQLite Backend = iota

	// Postgres is a database opened with the "pgx" driver.
	Postgres
)

// ErrUnknownBackend is returned for a driver without a supported dialect.
var ErrUnknownBackend = errors.New("unknown sql backend")

// String returns the driver name of the backend.
func (b Backend) String() string {
	switch b {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "pgx"
	default:
		return fmt.Sprintf("Backend(%d)", uint8(b))
	}
}

// BackendFromDriver returns the backend of the named database/sql driver.
func BackendFromDriver(driver string) (Backend, error) {
	switch driver {
	case "sqlite":
		return SQLite, nil
	case "pgx", "postgres":
		return Postgres, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, driver)
	}
}

// Statements shared by both dialects. Placeholders use the $N form that
// both drivers accept.
const (
	selectChangeSetsSQL = `SELECT id, data FROM changesets ORDER BY id`
	nextIDSQL           = `SELECT COALESCE(MAX(id), 0) + 1 FROM changesets`
	insertChangeSetSQL  = `INSERT INTO changesets (id, data) VALUES ($1, $2)`
)

// createTableSQL returns the schema of the change-set table for b.
func createTableSQL(b Backend) (string, error) {
	switch b {
	case SQLite:
		return `
		CREATE TABLE IF NOT EXISTS changesets (
			id INTEGER PRIMARY KEY,
			data BLOB NOT NULL
		);`, nil

	case Postgres:
		return `
		CREATE TABLE IF NOT EXISTS changesets (
			id BIGINT PRIMARY KEY,
			data BYTEA NOT NULL
		);`, nil

	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownBackend, b)
	}
}

// Store is a persist.Store writing one row per change-set.
type Store struct {
	db      *sql.DB
	backend Backend

	// ownsDB is set when Close must close db.
	ownsDB bool

	mu     sync.Mutex
	closed bool
}

// A compile time check to ensure Store implements persist.Store.
var _ persist.Store = (*Store)(nil)

// Open opens dsn with the named driver, "sqlite" or "pgx".
func Open(driver, dsn string) (*Store, error) {
	backend, err := BackendFromDriver(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(backend.String(), dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer.
	if backend == SQLite {
		db.SetMaxOpenConns(1)
	}

	return &Store{db: db, backend: backend, ownsDB: true}, nil
}

// New returns a Store using an already opened database of the given
// backend. Close leaves db open.
func New(db *sql.DB, backend Backend) *Store {
	return &Store{db: db, backend: backend}
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persist.ErrStoreClosed
	}
	return nil
}

// Initialize creates the change-set table if needed and returns the merge of
// every stored change-set.
func (s *Store) Initialize(
	ctx context.Context) (fn.Option[*wallet.ChangeSet], error) {

	none := fn.None[*wallet.ChangeSet]()

	if err := s.checkOpen(); err != nil {
		return none, err
	}

	schema, err := createTableSQL(s.backend)
	if err != nil {
		return none, err
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return none, fmt.Errorf("create table: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectChangeSetsSQL)
	if err != nil {
		return none, err
	}
	defer rows.Close()

	var (
		agg = wallet.NewChangeSet()
		n   int
	)
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return none, err
		}

		cs, err := wallet.DecodeChangeSet(bytes.NewReader(data))
		if err != nil {
			return none, fmt.Errorf("change-set %d: %w", id, err)
		}
		agg.Merge(cs)
		n++
	}
	if err := rows.Err(); err != nil {
		return none, err
	}

	if n == 0 {
		return none, nil
	}

	return fn.Some(agg), nil
}

// Persist appends cs as a new row.
func (s *Store) Persist(ctx context.Context, cs *wallet.ChangeSet) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if cs == nil || cs.IsEmpty() {
		return nil
	}

	b, err := cs.Bytes()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	var id int64
	err = tx.QueryRowContext(ctx, nextIDSQL).Scan(&id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, insertChangeSetSQL, id, b); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert change-set %d: %w", id, err)
	}

	return tx.Commit()
}

// Close closes the store and, if it was opened by Open, the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
