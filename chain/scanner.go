package chain

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultStopGap is the number of consecutive scripts without
	// history after which a full scan stops deriving a keychain.
	DefaultStopGap = 20

	// DefaultParallelism is the number of backend queries a scan keeps
	// in flight.
	DefaultParallelism = 1
)

// ErrNoPointOfAgreement is returned when no block of the request tip is
// part of the backend's best chain.
var ErrNoPointOfAgreement = errors.New("backend shares no block with the " +
	"local chain")

// Scanner turns scan requests into updates by querying a Backend. It never
// touches wallet state; an error leaves the caller's state as it was.
type Scanner struct {
	// Backend is the chain data source.
	Backend Backend

	// StopGap is the number of consecutive scripts without history after
	// which a full scan stops a keychain. Zero is treated as one.
	StopGap uint32

	// Parallelism bounds the number of concurrent backend queries. Values
	// below one are treated as one.
	Parallelism int
}

// NewScanner returns a scanner over backend with the default stop gap and
// parallelism.
func NewScanner(backend Backend) *Scanner {
	return &Scanner{
		Backend:     backend,
		StopGap:     DefaultStopGap,
		Parallelism: DefaultParallelism,
	}
}

func (s *Scanner) parallelism() int {
	if s.Parallelism < 1 {
		return 1
	}
	return s.Parallelism
}

func (s *Scanner) stopGap() uint32 {
	if s.StopGap == 0 {
		return 1
	}
	return s.StopGap
}

// queryAll runs query for every item with at most limit calls in flight.
// Results keep the order of items.
func queryAll[T, R any](ctx context.Context, limit int, items []T,
	query func(context.Context, T) (R, error)) ([]R, error) {

	results := make([]R, len(items))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, item := range items {
		eg.Go(func() error {
			res, err := query(ctx, item)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type indexedSpk struct {
	index uint32
	spk   []byte
}

// FullScan discovers the history of every keychain of req. Scripts are
// queried in batches of Parallelism in index order; a keychain stops after
// StopGap consecutive scripts without history.
func (s *Scanner) FullScan(ctx context.Context,
	req *FullScanRequest) (*Update, error) {

	c := newCollector(req.StartTime)
	update := &Update{
		LastActiveIndices: make(map[waddrmgr.KeychainKind]uint32),
	}

	keychains := make([]waddrmgr.KeychainKind, 0, len(req.SpksByKeychain))
	for k := range req.SpksByKeychain {
		keychains = append(keychains, k)
	}
	sort.Slice(keychains, func(i, j int) bool {
		return keychains[i] < keychains[j]
	})

	for _, k := range keychains {
		lastActive, err := s.scanKeychain(
			ctx, k, req.SpksByKeychain[k], c,
		)
		if err != nil {
			return nil, err
		}
		lastActive.WhenSome(func(index uint32) {
			update.LastActiveIndices[k] = index
		})
	}

	if err := s.finish(ctx, req.ChainTip, c, update); err != nil {
		return nil, err
	}

	log.Infof("Full scan found %d transactions, last active indices %v",
		len(update.TxUpdate.Txs), update.LastActiveIndices)

	return update, nil
}

// scanKeychain walks spks until the stop gap is hit and returns the last
// index with history.
func (s *Scanner) scanKeychain(ctx context.Context, k waddrmgr.KeychainKind,
	spks iter.Seq2[uint32, []byte], c *collector) (fn.Option[uint32], error) {

	next, stop := iter.Pull2(spks)
	defer stop()

	var (
		lastActive fn.Option[uint32]
		gap        uint32
		stopGap    = s.stopGap()
	)
	for gap < stopGap {
		if err := ctx.Err(); err != nil {
			return lastActive, err
		}

		batch := make([]indexedSpk, 0, s.parallelism())
		for len(batch) < s.parallelism() {
			index, spk, ok := next()
			if !ok {
				break
			}
			batch = append(batch, indexedSpk{index: index, spk: spk})
		}
		if len(batch) == 0 {
			break
		}

		results, err := queryAll(ctx, s.parallelism(), batch,
			func(ctx context.Context, item indexedSpk) ([]TxWithStatus,
				error) {

				return s.Backend.ScriptTxs(ctx, item.spk)
			},
		)
		if err != nil {
			return lastActive, err
		}

		// Results are consumed in index order so the outcome does not
		// depend on the batch size.
		for i, item := range batch {
			if len(results[i]) == 0 {
				gap++
				if gap >= stopGap {
					break
				}
				continue
			}

			gap = 0
			lastActive = fn.Some(item.index)
			for _, tx := range results[i] {
				c.add(tx)
			}
		}
	}

	log.Debugf("Scanned %v keychain, last active index %v", k,
		NewLogClosure(func() string {
			if lastActive.IsNone() {
				return "none"
			}
			return fmt.Sprintf("%d", lastActive.UnsafeFromSome())
		}))

	return lastActive, nil
}

// Sync refreshes the scripts, transactions and outputs of req.
func (s *Scanner) Sync(ctx context.Context, req *SyncRequest) (*Update,
	error) {

	c := newCollector(req.StartTime)
	limit := s.parallelism()

	spkResults, err := queryAll(ctx, limit, req.Spks,
		func(ctx context.Context, spk waddrmgr.KeychainSpk) ([]TxWithStatus,
			error) {

			return s.Backend.ScriptTxs(ctx, spk.Script)
		},
	)
	if err != nil {
		return nil, err
	}
	for _, txs := range spkResults {
		for _, tx := range txs {
			c.add(tx)
		}
	}

	statuses, err := queryAll(ctx, limit, req.Txids,
		func(ctx context.Context, txid chainhash.Hash) (fn.Option[TxStatus],
			error) {

			return s.Backend.TxStatus(ctx, txid)
		},
	)
	if err != nil {
		return nil, err
	}
	for i, status := range statuses {
		status.WhenSome(func(st TxStatus) {
			c.addStatus(req.Txids[i], st)
		})
	}

	spends, err := queryAll(ctx, limit, req.OutPoints,
		func(ctx context.Context, op wire.OutPoint) (fn.Option[TxWithStatus],
			error) {

			return s.Backend.OutputSpend(ctx, op)
		},
	)
	if err != nil {
		return nil, err
	}
	for _, spend := range spends {
		spend.WhenSome(c.add)
	}

	update := &Update{
		LastActiveIndices: make(map[waddrmgr.KeychainKind]uint32),
	}
	if err := s.finish(ctx, req.ChainTip, c, update); err != nil {
		return nil, err
	}

	log.Infof("Sync of %d scripts, %d txids and %d outpoints found %d "+
		"transactions", len(req.Spks), len(req.Txids),
		len(req.OutPoints), len(update.TxUpdate.Txs))

	return update, nil
}

// finish fills in the tx and chain parts of update.
func (s *Scanner) finish(ctx context.Context, localTip checkpoint.CheckPoint,
	c *collector, update *Update) error {

	update.TxUpdate = c.txUpdate()
	if localTip.IsZero() {
		return nil
	}

	cp, err := s.chainUpdate(ctx, localTip, c.blocks())
	if err != nil {
		return err
	}
	update.Chain = fn.Some(cp)

	return nil
}

// chainUpdate builds a checkpoint chain that connects to localTip at the
// highest block the backend agrees with. Above that point it carries the
// backend's block for every local height it disagrees with, every anchor
// block and the backend tip.
func (s *Scanner) chainUpdate(ctx context.Context,
	localTip checkpoint.CheckPoint,
	anchorBlocks []checkpoint.BlockID) (checkpoint.CheckPoint, error) {

	tip, err := s.Backend.Tip(ctx)
	if err != nil {
		return checkpoint.CheckPoint{}, err
	}

	var (
		agreement fn.Option[checkpoint.CheckPoint]
		replaced  = make(map[uint32]chainhash.Hash)
	)
	for cp := range localTip.Iter() {
		if cp.Height() > tip.Height {
			continue
		}
		hash, err := s.Backend.BlockHash(ctx, cp.Height())
		if err != nil {
			return checkpoint.CheckPoint{}, err
		}
		if hash == cp.Hash() {
			agreement = fn.Some(cp)
			break
		}
		replaced[cp.Height()] = hash
	}
	if agreement.IsNone() {
		return checkpoint.CheckPoint{}, ErrNoPointOfAgreement
	}

	update := agreement.UnsafeFromSome()
	base := update.Height()

	blocks := make(map[uint32]chainhash.Hash, len(anchorBlocks)+1)
	for _, id := range anchorBlocks {
		if id.Height > tip.Height {
			continue
		}
		if id.Height <= base {
			update = update.Insert(id)
			continue
		}
		blocks[id.Height] = id.Hash
	}
	for height, hash := range replaced {
		blocks[height] = hash
	}
	blocks[tip.Height] = tip.Hash

	heights := make([]uint32, 0, len(blocks))
	for height := range blocks {
		if height > base {
			heights = append(heights, height)
		}
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})
	for _, height := range heights {
		update, err = update.Push(checkpoint.BlockID{
			Height: height,
			Hash:   blocks[height],
		})
		if err != nil {
			return checkpoint.CheckPoint{}, err
		}
	}

	log.Debugf("Chain update agrees with local chain at %v, tip %v",
		agreement.UnsafeFromSome().BlockID(), update.BlockID())

	return update, nil
}

// collector accumulates scan results without duplicates.
type collector struct {
	startTime uint64
	txs       map[chainhash.Hash]*wire.MsgTx
	anchors   map[wtxmgr.TxAnchor]struct{}
	seenAts   map[chainhash.Hash]uint64
}

func newCollector(startTime uint64) *collector {
	return &collector{
		startTime: startTime,
		txs:       make(map[chainhash.Hash]*wire.MsgTx),
		anchors:   make(map[wtxmgr.TxAnchor]struct{}),
		seenAts:   make(map[chainhash.Hash]uint64),
	}
}

func (c *collector) add(tx TxWithStatus) {
	txid := tx.Tx.TxHash()
	c.txs[txid] = tx.Tx
	c.addStatus(txid, tx.Status)
}

func (c *collector) addStatus(txid chainhash.Hash, status TxStatus) {
	if a := status.anchor(); a.IsSome() {
		c.anchors[wtxmgr.TxAnchor{
			Txid:   txid,
			Anchor: a.UnsafeFromSome(),
		}] = struct{}{}
		return
	}
	if c.startTime != 0 {
		c.seenAts[txid] = c.startTime
	}
}

// blocks returns the distinct anchor blocks in ascending height order.
func (c *collector) blocks() []checkpoint.BlockID {
	seen := make(map[checkpoint.BlockID]struct{}, len(c.anchors))
	var ids []checkpoint.BlockID
	for a := range c.anchors {
		if _, ok := seen[a.Anchor.Block]; ok {
			continue
		}
		seen[a.Anchor.Block] = struct{}{}
		ids = append(ids, a.Anchor.Block)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Height < ids[j].Height
	})
	return ids
}

// txUpdate returns the collected data with txs ordered by txid.
func (c *collector) txUpdate() wtxmgr.TxUpdate {
	u := wtxmgr.TxUpdate{
		Txs:     make([]*wire.MsgTx, 0, len(c.txs)),
		Anchors: make([]wtxmgr.TxAnchor, 0, len(c.anchors)),
		SeenAts: c.seenAts,
	}
	for _, tx := range c.txs {
		u.Txs = append(u.Txs, tx)
	}
	sort.Slice(u.Txs, func(i, j int) bool {
		a, b := u.Txs[i].TxHash(), u.Txs[j].TxHash()
		return a.String() < b.String()
	})
	for a := range c.anchors {
		u.Anchors = append(u.Anchors, a)
	}
	sort.Slice(u.Anchors, func(i, j int) bool {
		a, b := u.Anchors[i], u.Anchors[j]
		if a.Anchor.Block.Height != b.Anchor.Block.Height {
			return a.Anchor.Block.Height < b.Anchor.Block.Height
		}
		return a.Txid.String() < b.Txid.String()
	})
	return u
}
