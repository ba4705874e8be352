// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package persist defines how wallet change-sets are stored and provides
// helpers that load, create and flush a wallet through a Store.
package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/descwallet/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrStoreClosed is returned by a Store that has been closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrExists is returned when creating a wallet in a store that
	// already holds one.
	ErrExists = errors.New("wallet already exists")
)

// Store is an append-only log of wallet change-sets.
type Store interface {
	// Initialize prepares the store and returns the merge of every
	// change-set it holds, in the order they were persisted. None is
	// returned for an empty store.
	Initialize(ctx context.Context) (fn.Option[*wallet.ChangeSet], error)

	// Persist appends a change-set. Empty change-sets are ignored.
	Persist(ctx context.Context, cs *wallet.ChangeSet) error

	// Close releases the resources of the store.
	Close() error
}

// Load restores the wallet held by store. None is returned if the store is
// empty.
func Load(ctx context.Context, store Store,
	opts ...wallet.Option) (fn.Option[*wallet.Wallet], error) {

	cs, err := store.Initialize(ctx)
	if err != nil {
		return fn.None[*wallet.Wallet](), err
	}
	if cs.IsNone() {
		return fn.None[*wallet.Wallet](), nil
	}

	w, err := wallet.Load(cs.UnsafeFromSome(), opts...)
	if err != nil {
		return fn.None[*wallet.Wallet](), err
	}

	// Loading may reveal indexes that were not stored yet.
	if err := Flush(ctx, store, w); err != nil {
		return fn.None[*wallet.Wallet](), err
	}

	return fn.Some(w), nil
}

// Create creates a wallet with create and persists its initial change-set.
// ErrExists is returned if store already holds a wallet.
func Create(ctx context.Context, store Store,
	create func() (*wallet.Wallet, error)) (*wallet.Wallet, error) {

	cs, err := store.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	if cs.IsSome() {
		return nil, ErrExists
	}

	w, err := create()
	if err != nil {
		return nil, err
	}
	if err := Flush(ctx, store, w); err != nil {
		return nil, err
	}

	log.Infof("Created and persisted %v wallet", w.Network())

	return w, nil
}

// LoadOrCreate restores the wallet held by store or, if the store is empty,
// creates one with create and persists it. The returned flag reports
// whether the wallet was created.
func LoadOrCreate(ctx context.Context, store Store,
	create func() (*wallet.Wallet, error),
	opts ...wallet.Option) (*wallet.Wallet, bool, error) {

	loaded, err := Load(ctx, store, opts...)
	if err != nil {
		return nil, false, err
	}
	if loaded.IsSome() {
		return loaded.UnsafeFromSome(), false, nil
	}

	w, err := Create(ctx, store, create)
	if err != nil {
		return nil, false, err
	}

	return w, true, nil
}

// Flush persists the change-set staged by w. The staged change-set is only
// taken from the wallet once the store accepted it, so a failed flush can be
// retried.
func Flush(ctx context.Context, store Store, w *wallet.Wallet) error {
	staged := w.Staged()
	if staged.IsEmpty() {
		return nil
	}

	if err := store.Persist(ctx, staged); err != nil {
		return fmt.Errorf("persist change-set: %w", err)
	}
	w.TakeStaged()

	return nil
}
