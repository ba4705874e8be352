// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package kvdb stores wallet change-sets in a walletdb key-value database.
package kvdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/persist"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"

	// Register the bbolt backed driver under the name "bdb".
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

const (
	// DBName is the file name of the database inside its directory.
	DBName = "wallet.db"

	// DefaultDBTimeout is the default time to wait for the database
	// lock.
	DefaultDBTimeout = 60 * time.Second

	dbDriver = "bdb"
)

// changeSetBucket holds one encoded change-set per key. Keys are big-endian
// sequence numbers, so iteration yields the change-sets in the order they
// were written.
var changeSetBucket = []byte("changesets")

// Store is a persist.Store backed by a walletdb database.
type Store struct {
	db walletdb.DB

	// ownsDB is set when Close must close db.
	ownsDB bool

	mu     sync.Mutex
	closed bool
}

// A compile time check to ensure Store implements persist.Store.
var _ persist.Store = (*Store)(nil)

// Open opens the bbolt database DBName inside dir, creating both when they
// do not exist.
func Open(dir string, timeout time.Duration) (*Store, error) {
	dbPath := filepath.Join(dir, DBName)

	exists, err := cfgutil.FileExists(dbPath)
	if err != nil {
		return nil, err
	}

	var db walletdb.DB
	if exists {
		db, err = walletdb.Open(dbDriver, dbPath, true, timeout, false)
	} else {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		db, err = walletdb.Create(dbDriver, dbPath, true, timeout, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", dbPath, err)
	}

	return &Store{db: db, ownsDB: true}, nil
}

// New returns a Store using an already opened database. Close leaves db
// open.
func New(db walletdb.DB) *Store {
	return &Store{db: db}
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return persist.ErrStoreClosed
	}
	return nil
}

// Initialize creates the change-set bucket if needed and returns the merge
// of every stored change-set.
func (s *Store) Initialize(
	ctx context.Context) (fn.Option[*wallet.ChangeSet], error) {

	if err := s.checkOpen(); err != nil {
		return fn.None[*wallet.ChangeSet](), err
	}

	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		if tx.ReadWriteBucket(changeSetBucket) != nil {
			return nil
		}
		_, err := tx.CreateTopLevelBucket(changeSetBucket)
		return err
	})
	if err != nil {
		return fn.None[*wallet.ChangeSet](), err
	}

	var (
		agg = wallet.NewChangeSet()
		n   int
	)
	err = walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		bucket := tx.ReadBucket(changeSetBucket)
		return bucket.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			cs, err := wallet.DecodeChangeSet(bytes.NewReader(v))
			if err != nil {
				return fmt.Errorf("change-set %d: %w",
					binary.BigEndian.Uint64(k), err)
			}
			agg.Merge(cs)
			n++

			return nil
		})
	})
	if err != nil {
		return fn.None[*wallet.ChangeSet](), err
	}

	if n == 0 {
		return fn.None[*wallet.ChangeSet](), nil
	}

	return fn.Some(agg), nil
}

// Persist appends cs under the next sequence number of the bucket.
func (s *Store) Persist(ctx context.Context, cs *wallet.ChangeSet) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if cs == nil || cs.IsEmpty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b, err := cs.Bytes()
	if err != nil {
		return err
	}

	return walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		bucket := tx.ReadWriteBucket(changeSetBucket)
		if bucket == nil {
			return fmt.Errorf("bucket %s not initialized",
				changeSetBucket)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}

		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)

		return bucket.Put(key[:], b)
	})
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
