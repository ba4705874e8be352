package checkpoint

import (
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// h returns a deterministic block hash for a label.
func h(label string) chainhash.Hash {
	return chainhash.DoubleHashH([]byte(label))
}

// ids builds ascending block IDs from height/label pairs.
func ids(pairs ...interface{}) []BlockID {
	var out []BlockID
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, BlockID{
			Height: uint32(pairs[i].(int)),
			Hash:   h(pairs[i+1].(string)),
		})
	}

	return out
}

func mustChain(t *testing.T, blocks []BlockID) *LocalChain {
	t.Helper()

	tip, err := FromBlockIDs(blocks)
	require.NoError(t, err)

	chain, err := FromTip(tip)
	require.NoError(t, err)

	return chain
}

func mustCP(t *testing.T, blocks []BlockID) CheckPoint {
	t.Helper()

	tip, err := FromBlockIDs(blocks)
	require.NoError(t, err)

	return tip
}

// TestCheckPointNavigation exercises the read accessors of a chain.
func TestCheckPointNavigation(t *testing.T) {
	t.Parallel()

	blocks := ids(0, "G", 3, "C", 7, "D")
	tip := mustCP(t, blocks)

	require.Equal(t, uint32(7), tip.Height())
	require.Equal(t, h("D"), tip.Hash())
	require.Equal(t, blocks, tip.BlockIDs())
	require.Equal(t, uint32(0), tip.Base().Height())

	require.True(t, tip.Get(3).IsSome())
	require.True(t, tip.Get(4).IsNone())
	require.Equal(t, uint32(3), tip.Floor(6).UnsafeFromSome().Height())
	require.True(t, tip.Contains(blocks[1]))
	require.False(t, tip.Contains(BlockID{Height: 3, Hash: h("X")}))

	prev := tip.Prev()
	require.True(t, prev.IsSome())
	require.Equal(t, uint32(3), prev.UnsafeFromSome().Height())
	require.True(t, tip.Base().Prev().IsNone())

	_, err := tip.Push(BlockID{Height: 7, Hash: h("E")})
	require.ErrorIs(t, err, ErrNotAscending)

	var ranged []uint32
	for cp := range tip.Range(1, 6) {
		ranged = append(ranged, cp.Height())
	}
	require.Equal(t, []uint32{3}, ranged)

	ranged = ranged[:0]
	for cp := range tip.Range(0, 7) {
		ranged = append(ranged, cp.Height())
	}
	require.Equal(t, []uint32{7, 3, 0}, ranged)

	var zero CheckPoint
	require.True(t, zero.IsZero())
	for range zero.Iter() {
		t.Fatal("zero checkpoint must not yield")
	}
}

// TestCheckPointInsert checks insertion below, between and conflicting with
// existing checkpoints.
func TestCheckPointInsert(t *testing.T) {
	t.Parallel()

	tip := mustCP(t, ids(0, "G", 2, "B", 4, "D"))

	between := tip.Insert(BlockID{Height: 3, Hash: h("C")})
	require.Equal(t, ids(0, "G", 2, "B", 3, "C", 4, "D"),
		between.BlockIDs())

	same := tip.Insert(BlockID{Height: 2, Hash: h("B")})
	require.True(t, same.Same(tip))

	conflict := tip.Insert(BlockID{Height: 2, Hash: h("X")})
	require.Equal(t, ids(0, "G", 2, "X"), conflict.BlockIDs())

	// The original chain is unchanged.
	require.Equal(t, ids(0, "G", 2, "B", 4, "D"), tip.BlockIDs())
}

// TestApplyUpdate runs update chains against local chains.
func TestApplyUpdate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		local       []BlockID
		update      []BlockID
		expected    []BlockID
		changes     map[uint32]fn.Option[chainhash.Hash]
		invalidated fn.Option[uint32]
		err         error
	}{{
		name:     "extend tip",
		local:    ids(0, "G", 1, "A"),
		update:   ids(1, "A", 2, "B"),
		expected: ids(0, "G", 1, "A", 2, "B"),
		changes: map[uint32]fn.Option[chainhash.Hash]{
			2: fn.Some(h("B")),
		},
	}, {
		name:     "introduce older block",
		local:    ids(0, "G", 2, "B"),
		update:   ids(1, "A", 2, "B"),
		expected: ids(0, "G", 1, "A", 2, "B"),
		changes: map[uint32]fn.Option[chainhash.Hash]{
			1: fn.Some(h("A")),
		},
	}, {
		name:     "reorg",
		local:    ids(0, "G", 1, "A", 2, "B", 3, "C"),
		update:   ids(1, "A", 2, "B'", 3, "C'", 4, "D"),
		expected: ids(0, "G", 1, "A", 2, "B'", 3, "C'", 4, "D"),
		changes: map[uint32]fn.Option[chainhash.Hash]{
			2: fn.Some(h("B'")),
			3: fn.Some(h("C'")),
			4: fn.Some(h("D")),
		},
		invalidated: fn.Some(uint32(2)),
	}, {
		name:     "reorg removes blocks the update skips",
		local:    ids(0, "G", 1, "A", 2, "B", 3, "C"),
		update:   ids(1, "A", 2, "B'", 5, "E"),
		expected: ids(0, "G", 1, "A", 2, "B'", 5, "E"),
		changes: map[uint32]fn.Option[chainhash.Hash]{
			2: fn.Some(h("B'")),
			3: fn.None[chainhash.Hash](),
			5: fn.Some(h("E")),
		},
		invalidated: fn.Some(uint32(2)),
	}, {
		name:   "no common block",
		local:  ids(0, "G", 1, "A"),
		update: ids(2, "B"),
		err:    ErrCannotConnect,
	}, {
		name:   "ambiguous point of agreement",
		local:  ids(0, "G", 1, "A", 2, "B"),
		update: ids(0, "G", 3, "C"),
		err:    ErrCannotConnect,
	}, {
		name:   "different genesis",
		local:  ids(0, "G"),
		update: ids(0, "X", 1, "Y"),
		err:    ErrAlterGenesis,
	}, {
		name:     "identical",
		local:    ids(0, "G", 1, "A"),
		update:   ids(0, "G", 1, "A"),
		expected: ids(0, "G", 1, "A"),
		changes:  map[uint32]fn.Option[chainhash.Hash]{},
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			chain := mustChain(t, test.local)
			update := mustCP(t, test.update)

			preview, err := chain.PreviewUpdate(update)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)

				_, err = chain.ApplyUpdate(update)
				require.ErrorIs(t, err, test.err)
				require.Equal(t, test.local,
					chain.Tip().BlockIDs())

				return
			}
			require.NoError(t, err)
			require.Equal(t, test.invalidated.IsSome(),
				preview.Invalidated.IsSome())
			test.invalidated.WhenSome(func(height uint32) {
				require.Equal(t, height,
					preview.Invalidated.UnsafeFromSome())
			})

			// Previewing does not touch the chain.
			require.Equal(t, test.local, chain.Tip().BlockIDs())

			cs, err := chain.ApplyUpdate(update)
			require.NoError(t, err)
			require.Equal(t, test.changes, cs.Blocks)
			require.Equal(t, test.expected, chain.Tip().BlockIDs())

			// Applying the same update again changes nothing.
			cs, err = chain.ApplyUpdate(update)
			require.NoError(t, err)
			require.True(t, cs.IsEmpty())
		})
	}
}

// TestInsertBlock checks the ChangeSet of a conflicting insert and that
// snapshots taken before stay frozen.
func TestInsertBlock(t *testing.T) {
	t.Parallel()

	chain := mustChain(t, ids(0, "G", 1, "A", 2, "B", 3, "C"))
	snapshot := chain.Tip()

	cs, err := chain.InsertBlock(BlockID{Height: 2, Hash: h("X")})
	require.NoError(t, err)
	require.Equal(t, map[uint32]fn.Option[chainhash.Hash]{
		2: fn.Some(h("X")),
		3: fn.None[chainhash.Hash](),
	}, cs.Blocks)
	require.Equal(t, ids(0, "G", 1, "A", 2, "X"), chain.Tip().BlockIDs())
	require.Equal(t, ids(0, "G", 1, "A", 2, "B", 3, "C"),
		snapshot.BlockIDs())

	cs, err = chain.InsertBlock(BlockID{Height: 2, Hash: h("X")})
	require.NoError(t, err)
	require.True(t, cs.IsEmpty())

	_, err = chain.InsertBlock(BlockID{Height: 0, Hash: h("Z")})
	require.ErrorIs(t, err, ErrAlterGenesis)
}

// TestChangeSetRoundTrip ensures a chain can be rebuilt from its ChangeSets.
func TestChangeSetRoundTrip(t *testing.T) {
	t.Parallel()

	chain, cs := NewFromGenesis(h("G"))
	require.Equal(t, h("G"), chain.GenesisHash())

	update := mustCP(t, ids(0, "G", 5, "E", 9, "I"))
	applied, err := chain.ApplyUpdate(update)
	require.NoError(t, err)
	cs.Merge(applied)

	applied, err = chain.InsertBlock(BlockID{Height: 5, Hash: h("E'")})
	require.NoError(t, err)
	cs.Merge(applied)

	restored, err := FromChangeSet(cs)
	require.NoError(t, err)
	require.Equal(t, chain.Tip().BlockIDs(), restored.Tip().BlockIDs())
	require.Equal(t, chain.InitialChangeSet(), restored.InitialChangeSet())

	require.NoError(t, restored.ApplyChangeSet(cs))
	require.Equal(t, chain.Tip().BlockIDs(), restored.Tip().BlockIDs())

	_, err = FromChangeSet(NewChangeSet())
	require.ErrorIs(t, err, ErrMissingGenesis)

	bad := NewChangeSet()
	bad.Blocks[0] = fn.Some(h("other"))
	require.ErrorIs(t, restored.ApplyChangeSet(bad), ErrAlterGenesis)
}

// TestReorgDepth checks the depth computation of merge results.
func TestReorgDepth(t *testing.T) {
	t.Parallel()

	r := MergeResult{Invalidated: fn.Some(uint32(8))}
	require.Equal(t, uint32(3), r.ReorgDepth(10))
	require.Equal(t, uint32(0), r.ReorgDepth(7))

	r = MergeResult{Invalidated: fn.None[uint32]()}
	require.Equal(t, uint32(0), r.ReorgDepth(10))
}

// TestConcurrentSnapshots reads a snapshot from several goroutines while the
// chain keeps growing from the same arena.
func TestConcurrentSnapshots(t *testing.T) {
	t.Parallel()

	chain, _ := NewFromGenesis(h("G"))
	for i := 1; i <= 10; i++ {
		_, err := chain.InsertBlock(BlockID{
			Height: uint32(i), Hash: h(string(rune('a' + i))),
		})
		require.NoError(t, err)
	}
	snapshot := chain.Tip()
	expected := snapshot.BlockIDs()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if len(snapshot.BlockIDs()) != len(expected) {
					t.Error("snapshot changed")
					return
				}
			}
		}()
	}

	for i := 11; i <= 60; i++ {
		_, err := chain.InsertBlock(BlockID{
			Height: uint32(i), Hash: h(string(rune('a' + i))),
		})
		require.NoError(t, err)
	}
	wg.Wait()

	require.Equal(t, expected, snapshot.BlockIDs())
}
