package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// memBlock is a block of a MemBackend chain.
type memBlock struct {
	hash chainhash.Hash
	time uint64
	txs  []chainhash.Hash
}

// MemBackend is an in-memory Backend. Blocks are mined on demand and may be
// disconnected to simulate reorganizations. It is safe for concurrent use.
type MemBackend struct {
	mu sync.Mutex

	blocks  []memBlock
	txs     map[chainhash.Hash]*wire.MsgTx
	height  map[chainhash.Hash]uint32
	mempool map[chainhash.Hash]struct{}

	// nonce makes block hashes unique across forks.
	nonce uint64

	// err, when set, fails every query.
	err error

	scriptQueries int
}

// A compile-time assertion to ensure MemBackend satisfies Backend.
var _ Backend = (*MemBackend)(nil)

// NewMemBackend returns a backend whose chain holds only the genesis block
// of params.
func NewMemBackend(params *chaincfg.Params) *MemBackend {
	return &MemBackend{
		blocks: []memBlock{{
			hash: *params.GenesisHash,
			time: uint64(params.GenesisBlock.Header.Timestamp.Unix()),
		}},
		txs:     make(map[chainhash.Hash]*wire.MsgTx),
		height:  make(map[chainhash.Hash]uint32),
		mempool: make(map[chainhash.Hash]struct{}),
	}
}

// SetError makes every following query fail with err. A nil err restores
// normal operation.
func (b *MemBackend) SetError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.err = err
}

// ScriptQueries returns the number of ScriptTxs calls served so far.
func (b *MemBackend) ScriptQueries() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.scriptQueries
}

// AddMempoolTx adds tx to the mempool.
func (b *MemBackend) AddMempoolTx(tx *wire.MsgTx) {
	b.mu.Lock()
	defer b.mu.Unlock()

	txid := tx.TxHash()
	if _, ok := b.height[txid]; ok {
		return
	}
	b.txs[txid] = tx
	b.mempool[txid] = struct{}{}
}

// MineBlock mines a block confirming txs and every mempool transaction, and
// returns its ID.
func (b *MemBackend) MineBlock(txs ...*wire.MsgTx) checkpoint.BlockID {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, tx := range txs {
		txid := tx.TxHash()
		if _, ok := b.height[txid]; ok {
			continue
		}
		b.txs[txid] = tx
		b.mempool[txid] = struct{}{}
	}

	height := uint32(len(b.blocks))
	b.nonce++
	var seed [12]byte
	binary.LittleEndian.PutUint32(seed[:4], height)
	binary.LittleEndian.PutUint64(seed[4:], b.nonce)

	block := memBlock{
		hash: chainhash.DoubleHashH(seed[:]),
		time: b.blocks[len(b.blocks)-1].time + 600,
	}
	for txid := range b.mempool {
		block.txs = append(block.txs, txid)
		b.height[txid] = height
	}
	b.mempool = make(map[chainhash.Hash]struct{})
	b.blocks = append(b.blocks, block)

	return checkpoint.BlockID{Height: height, Hash: block.hash}
}

// MineEmpty mines n blocks confirming nothing new. It leaves the mempool
// untouched.
func (b *MemBackend) MineEmpty(n int) checkpoint.BlockID {
	b.mu.Lock()
	pool := b.mempool
	b.mempool = make(map[chainhash.Hash]struct{})
	b.mu.Unlock()

	var id checkpoint.BlockID
	for i := 0; i < n; i++ {
		id = b.MineBlock()
	}

	b.mu.Lock()
	for txid := range pool {
		b.mempool[txid] = struct{}{}
	}
	b.mu.Unlock()

	return id
}

// Disconnect removes every block at or above height. The transactions they
// confirmed return to the mempool.
func (b *MemBackend) Disconnect(height uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if height == 0 || height >= uint32(len(b.blocks)) {
		return
	}
	for _, block := range b.blocks[height:] {
		for _, txid := range block.txs {
			delete(b.height, txid)
			b.mempool[txid] = struct{}{}
		}
	}
	b.blocks = b.blocks[:height]
}

func (b *MemBackend) status(txid chainhash.Hash) TxStatus {
	height, ok := b.height[txid]
	if !ok {
		return TxStatus{}
	}
	block := b.blocks[height]
	return TxStatus{
		Confirmed: true,
		Block:     checkpoint.BlockID{Height: height, Hash: block.hash},
		BlockTime: block.time,
	}
}

// Tip returns the best block.
func (b *MemBackend) Tip(_ context.Context) (checkpoint.BlockID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return checkpoint.BlockID{}, b.err
	}
	height := uint32(len(b.blocks) - 1)
	return checkpoint.BlockID{Height: height, Hash: b.blocks[height].hash},
		nil
}

// BlockHash returns the hash of the block at height.
func (b *MemBackend) BlockHash(_ context.Context,
	height uint32) (chainhash.Hash, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return chainhash.Hash{}, b.err
	}
	if height >= uint32(len(b.blocks)) {
		return chainhash.Hash{}, fmt.Errorf("block at height %d not "+
			"found", height)
	}
	return b.blocks[height].hash, nil
}

// ScriptTxs returns every known transaction with an output paying pkScript
// or an input spending such an output, ordered by txid.
func (b *MemBackend) ScriptTxs(_ context.Context,
	pkScript []byte) ([]TxWithStatus, error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return nil, b.err
	}
	b.scriptQueries++

	script := string(pkScript)
	var txids []chainhash.Hash
	for txid, tx := range b.txs {
		if b.touches(tx, script) {
			txids = append(txids, txid)
		}
	}
	sort.Slice(txids, func(i, j int) bool {
		return txids[i].String() < txids[j].String()
	})

	txs := make([]TxWithStatus, 0, len(txids))
	for _, txid := range txids {
		txs = append(txs, TxWithStatus{
			Tx:     b.txs[txid],
			Status: b.status(txid),
		})
	}
	return txs, nil
}

func (b *MemBackend) touches(tx *wire.MsgTx, script string) bool {
	for _, out := range tx.TxOut {
		if string(out.PkScript) == script {
			return true
		}
	}
	if blockchain.IsCoinBaseTx(tx) {
		return false
	}
	for _, in := range tx.TxIn {
		prev, ok := b.txs[in.PreviousOutPoint.Hash]
		if !ok || in.PreviousOutPoint.Index >= uint32(len(prev.TxOut)) {
			continue
		}
		if string(prev.TxOut[in.PreviousOutPoint.Index].PkScript) ==
			script {

			return true
		}
	}
	return false
}

// TxStatus returns the status of txid.
func (b *MemBackend) TxStatus(_ context.Context,
	txid chainhash.Hash) (fn.Option[TxStatus], error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return fn.None[TxStatus](), b.err
	}
	if _, ok := b.txs[txid]; !ok {
		return fn.None[TxStatus](), nil
	}
	return fn.Some(b.status(txid)), nil
}

// OutputSpend returns the known transaction spending op.
func (b *MemBackend) OutputSpend(_ context.Context,
	op wire.OutPoint) (fn.Option[TxWithStatus], error) {

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return fn.None[TxWithStatus](), b.err
	}
	for txid, tx := range b.txs {
		for _, in := range tx.TxIn {
			if in.PreviousOutPoint == op {
				return fn.Some(TxWithStatus{
					Tx:     tx,
					Status: b.status(txid),
				}), nil
			}
		}
	}
	return fn.None[TxWithStatus](), nil
}

// MineCoinbase mines a block whose coinbase pays value to pkScript and
// returns the coinbase with the block ID.
func (b *MemBackend) MineCoinbase(pkScript []byte,
	value int64) (*wire.MsgTx, checkpoint.BlockID) {

	b.mu.Lock()
	height := int64(len(b.blocks))
	b.mu.Unlock()

	// The height in the signature script keeps coinbase txids unique.
	sigScript, _ := txscript.NewScriptBuilder().AddInt64(height).Script()
	prev := wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(prev, sigScript, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))

	return tx, b.MineBlock(tx)
}

// PayToScript returns a transaction spending prev that pays value to
// pkScript.
func PayToScript(prev wire.OutPoint, pkScript []byte,
	value int64) *wire.MsgTx {

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&prev, nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return tx
}
