// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import "github.com/btcsuite/btcd/chaincfg/chainhash"

type graphNode struct {
	value    *CanonicalTx
	outEdges []chainhash.Hash
	inDegree int
}

type hashGraph map[chainhash.Hash]graphNode

// makeGraph builds the spend graph of txs. Edge order follows the order of
// txs so that sorting is deterministic.
func makeGraph(txs []*CanonicalTx) hashGraph {
	graph := make(hashGraph, len(txs))
	for _, ctx := range txs {
		graph[ctx.Txid] = graphNode{value: ctx}
	}

	for _, ctx := range txs {
	inputLoop:
		for _, input := range spentInputs(ctx.Tx) {
			// Transaction inputs that reference transactions not
			// included in the set do not create any (local) graph
			// edges.
			inputNode, ok := graph[input.PreviousOutPoint.Hash]
			if !ok {
				continue
			}

			// Skip duplicate edges.
			for _, outEdge := range inputNode.outEdges {
				if outEdge == ctx.Txid {
					continue inputLoop
				}
			}

			// Mark a directed edge from the previous transaction
			// hash to this transaction and increase the input
			// degree for this transaction's node.
			inputNode.outEdges = append(inputNode.outEdges, ctx.Txid)
			graph[input.PreviousOutPoint.Hash] = inputNode

			node := graph[ctx.Txid]
			node.inDegree++
			graph[ctx.Txid] = node
		}
	}

	return graph
}

// graphRoots returns the roots of the graph, in the order they appear in
// txs.  That is, it returns the node's values for all nodes which contain an
// input degree of 0.
func graphRoots(graph hashGraph, txs []*CanonicalTx) []*CanonicalTx {
	roots := make([]*CanonicalTx, 0, len(txs))
	for _, ctx := range txs {
		if graph[ctx.Txid].inDegree == 0 {
			roots = append(roots, ctx)
		}
	}
	return roots
}

// dependencySort topologically sorts a set of transactions by their
// dependency order so that every transaction follows the transactions it
// spends from.  It is implemented using Kahn's algorithm.
func dependencySort(txs []*CanonicalTx) []*CanonicalTx {
	graph := makeGraph(txs)
	s := graphRoots(graph, txs)

	// If there are no edges (no transactions from the set reference each
	// other), then Kahn's algorithm is unnecessary.
	if len(s) == len(txs) {
		return s
	}

	sorted := make([]*CanonicalTx, 0, len(txs))
	for len(s) != 0 {
		ctx := s[0]
		s = s[1:]
		sorted = append(sorted, ctx)

		n := graph[ctx.Txid]
		for _, mHash := range n.outEdges {
			m := graph[mHash]
			if m.inDegree != 0 {
				m.inDegree--
				graph[mHash] = m
				if m.inDegree == 0 {
					s = append(s, m.value)
				}
			}
		}
	}
	return sorted
}
