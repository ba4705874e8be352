// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/internal/zero"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Wallet tracks the addresses, transactions and chain view of a pair of
// descriptors.
//
// A Wallet has a single writer. Methods that mutate state must not run
// concurrently with any other method. Every mutation is staged and can be
// taken with TakeStaged for persistence.
type Wallet struct {
	cfg     *Config
	network netparams.Network
	params  *chaincfg.Params

	index *waddrmgr.Index
	chain *checkpoint.LocalChain
	graph *wtxmgr.TxGraph

	stage *ChangeSet
}

// newWallet assembles a wallet with an empty graph around the given chain.
func newWallet(cfg *Config, net netparams.Network, params *chaincfg.Params,
	external, internal *descriptor.Descriptor,
	chain *checkpoint.LocalChain) (*Wallet, error) {

	if external.ID() == internal.ID() {
		return nil, ErrDescriptorsSame
	}

	index, err := waddrmgr.NewIndex(map[waddrmgr.KeychainKind]*descriptor.Descriptor{
		waddrmgr.External: external,
		waddrmgr.Internal: internal,
	}, cfg.Lookahead)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		cfg:     cfg,
		network: net,
		params:  params,
		index:   index,
		chain:   chain,
		graph:   wtxmgr.New(),
		stage:   NewChangeSet(),
	}, nil
}

// Create creates a new wallet for the external and internal descriptors on
// the given network. The returned wallet stages the change-set that records
// its creation.
func Create(external, internal string, net netparams.Network,
	opts ...Option) (*Wallet, error) {

	params, err := net.Params()
	if err != nil {
		return nil, err
	}

	extDesc, err := descriptor.Parse(external, params)
	if err != nil {
		return nil, fmt.Errorf("external descriptor: %w", err)
	}
	intDesc, err := descriptor.Parse(internal, params)
	if err != nil {
		return nil, fmt.Errorf("internal descriptor: %w", err)
	}

	chain, chainCS := checkpoint.NewFromGenesis(*params.GenesisHash)

	w, err := newWallet(newConfig(opts), net, params, extDesc, intDesc, chain)
	if err != nil {
		return nil, err
	}

	w.stage.Descriptor = fn.Some(extDesc)
	w.stage.ChangeDescriptor = fn.Some(intDesc)
	w.stage.Network = fn.Some(net)
	w.stage.LocalChain.Merge(chainCS)

	log.Infof("Created %v wallet %v", net, newLogClosure(func() string {
		return extDesc.ID().String()
	}))

	return w, nil
}

// CreateFromPair creates a new wallet from a descriptor pair such as the
// one returned by the descriptor templates.
func CreateFromPair(pair descriptor.DescriptorPair, net netparams.Network,
	opts ...Option) (*Wallet, error) {

	return Create(pair.External, pair.Internal, net, opts...)
}

// CreateFromMnemonic creates a new wallet for the first account of the
// standard derivation of addrType, keyed by a BIP-39 mnemonic.
func CreateFromMnemonic(mnemonic, passphrase string, net netparams.Network,
	addrType descriptor.AddressType, opts ...Option) (*Wallet, error) {

	params, err := net.Params()
	if err != nil {
		return nil, err
	}

	seed, err := descriptor.MnemonicToSeed(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(seed)

	pair, err := descriptor.SeedToDescriptor(seed, params, addrType)
	if err != nil {
		return nil, err
	}

	return CreateFromPair(pair, net, opts...)
}

// invalidChangeSet returns an ErrInvalidChangeSet carrying a formatted reason.
func invalidChangeSet(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidChangeSet, fmt.Sprintf(format, a...))
}

// Load restores a wallet from the aggregate of every change-set it staged.
// The change-set must describe the descriptors, network and genesis block
// of the wallet; otherwise, or if any part of it is inconsistent,
// ErrInvalidChangeSet is returned.
func Load(cs *ChangeSet, opts ...Option) (*Wallet, error) {
	if cs == nil {
		return nil, invalidChangeSet("no change-set")
	}
	if cs.Descriptor.IsNone() || cs.ChangeDescriptor.IsNone() {
		return nil, invalidChangeSet("missing descriptor")
	}
	if cs.Network.IsNone() {
		return nil, invalidChangeSet("missing network")
	}

	net := cs.Network.UnsafeFromSome()
	params, err := net.Params()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChangeSet, err)
	}

	extDesc := cs.Descriptor.UnsafeFromSome()
	intDesc := cs.ChangeDescriptor.UnsafeFromSome()
	for _, d := range []*descriptor.Descriptor{extDesc, intDesc} {
		if d == nil {
			return nil, invalidChangeSet("nil descriptor")
		}
		if d.Params().Name != params.Name {
			return nil, invalidChangeSet("descriptor for %v used "+
				"on %v", d.Params().Name, net)
		}
	}

	genesis, ok := cs.LocalChain.Blocks[0]
	if !ok || genesis.IsNone() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChangeSet,
			checkpoint.ErrMissingGenesis)
	}
	if genesis.UnsafeFromSome() != *params.GenesisHash {
		return nil, invalidChangeSet("genesis %v does not belong to %v",
			genesis.UnsafeFromSome(), net)
	}

	chain, err := checkpoint.FromChangeSet(cs.LocalChain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChangeSet, err)
	}

	w, err := newWallet(newConfig(opts), net, params, extDesc, intDesc, chain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChangeSet, err)
	}

	if err := w.index.ApplyChangeSet(cs.Indexer); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChangeSet, err)
	}
	if err := w.graph.ApplyChangeSet(cs.TxGraph); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChangeSet, err)
	}

	// Usage is not persisted, so it is rebuilt from the graph. Anything
	// this reveals beyond the stored indexes is staged.
	for _, txid := range w.graph.Txids() {
		w.graph.GetTx(txid).WhenSome(func(tx *wire.MsgTx) {
			w.stage.Indexer.Merge(w.index.IndexTx(tx))
		})
	}

	log.Infof("Loaded %v wallet with %d transactions, tip %v", net,
		w.graph.Len(), w.chain.Tip().BlockID())

	return w, nil
}

// LoadBytes decodes a TLV encoded change-set and loads the wallet it
// describes.
func LoadBytes(b []byte, opts ...Option) (*Wallet, error) {
	cs, err := DecodeChangeSet(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	return Load(cs, opts...)
}

// Network returns the network of the wallet.
func (w *Wallet) Network() netparams.Network {
	return w.network
}

// ChainParams returns the chain parameters of the wallet's network.
func (w *Wallet) ChainParams() *chaincfg.Params {
	return w.params
}

// Config returns the configuration of the wallet.
func (w *Wallet) Config() Config {
	return *w.cfg
}

// coinbaseMaturity returns the confirmations a coinbase output needs.
func (w *Wallet) coinbaseMaturity() uint32 {
	return w.cfg.CoinbaseMaturity.UnwrapOr(uint32(w.params.CoinbaseMaturity))
}

// PublicDescriptor returns the public form of the descriptor of keychain k.
func (w *Wallet) PublicDescriptor(k waddrmgr.KeychainKind) (string, error) {
	d, err := w.index.Descriptor(k)
	if err != nil {
		return "", err
	}

	return d.PublicString(), nil
}

// DescriptorID returns the identifier of the descriptor of keychain k.
func (w *Wallet) DescriptorID(k waddrmgr.KeychainKind) (descriptor.ID, error) {
	d, err := w.index.Descriptor(k)
	if err != nil {
		return descriptor.ID{}, err
	}

	return d.ID(), nil
}

// LatestCheckpoint returns the tip of the wallet's chain.
func (w *Wallet) LatestCheckpoint() checkpoint.CheckPoint {
	return w.chain.Tip()
}

// GenesisHash returns the genesis block hash of the wallet's chain.
func (w *Wallet) GenesisHash() chainhash.Hash {
	return w.chain.GenesisHash()
}

// InsertBlock inserts a block into the wallet's chain. A different block at
// the same height replaces it together with everything above it; anchors in
// the replaced blocks no longer confirm their transactions.
func (w *Wallet) InsertBlock(id checkpoint.BlockID) error {
	cs, err := w.chain.InsertBlock(id)
	if err != nil {
		return err
	}

	w.stage.LocalChain.Merge(cs)

	return nil
}

// Staged returns the change-set accumulated since it was last taken. It
// must not be modified.
func (w *Wallet) Staged() *ChangeSet {
	return w.stage
}

// TakeStaged returns the change-set accumulated since the last call and
// resets it. None is returned when nothing changed.
func (w *Wallet) TakeStaged() fn.Option[*ChangeSet] {
	if w.stage.IsEmpty() {
		return fn.None[*ChangeSet]()
	}

	staged := w.stage
	w.stage = NewChangeSet()

	return fn.Some(staged)
}

// InitialChangeSet returns a change-set that recreates the whole wallet.
func (w *Wallet) InitialChangeSet() (*ChangeSet, error) {
	ext, err := w.index.Descriptor(waddrmgr.External)
	if err != nil {
		return nil, err
	}
	internal, err := w.index.Descriptor(waddrmgr.Internal)
	if err != nil {
		return nil, err
	}

	cs := NewChangeSet()
	cs.Descriptor = fn.Some(ext)
	cs.ChangeDescriptor = fn.Some(internal)
	cs.Network = fn.Some(w.network)
	cs.LocalChain = w.chain.InitialChangeSet()
	cs.TxGraph = w.graph.InitialChangeSet()
	cs.Indexer = w.index.InitialChangeSet()

	return cs, nil
}
