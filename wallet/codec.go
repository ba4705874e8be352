// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/checkpoint"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/waddrmgr"
	"github.com/btcsuite/descwallet/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeDescriptor       tlv.Type = 1
	typeChangeDescriptor tlv.Type = 2
	typeNetwork          tlv.Type = 3
	typeBlocks           tlv.Type = 4
	typeTxs              tlv.Type = 5
	typeAnchors          tlv.Type = 6
	typeLastSeen         tlv.Type = 7
	typeLastRevealed     tlv.Type = 8

	typeBlockHeight  tlv.Type = 1
	typeBlockPresent tlv.Type = 2
	typeBlockHash    tlv.Type = 3

	typeTxRaw tlv.Type = 1

	typeAnchorTxid   tlv.Type = 1
	typeAnchorHeight tlv.Type = 2
	typeAnchorHash   tlv.Type = 3
	typeAnchorTime   tlv.Type = 4

	typeSeenTxid tlv.Type = 1
	typeSeenAt   tlv.Type = 2

	typeRevealKeychain tlv.Type = 1
	typeRevealIndex    tlv.Type = 2
)

type blockEntry struct {
	height  uint32
	present uint8
	hash    [32]byte
}

func (e *blockEntry) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeBlockHeight, &e.height),
		tlv.MakePrimitiveRecord(typeBlockPresent, &e.present),
		tlv.MakePrimitiveRecord(typeBlockHash, &e.hash),
	}
}

type txEntry struct {
	raw []byte
}

func (e *txEntry) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeTxRaw, &e.raw),
	}
}

type anchorEntry struct {
	txid   [32]byte
	height uint32
	hash   [32]byte
	time   uint64
}

func (e *anchorEntry) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeAnchorTxid, &e.txid),
		tlv.MakePrimitiveRecord(typeAnchorHeight, &e.height),
		tlv.MakePrimitiveRecord(typeAnchorHash, &e.hash),
		tlv.MakePrimitiveRecord(typeAnchorTime, &e.time),
	}
}

type seenEntry struct {
	txid [32]byte
	seen uint64
}

func (e *seenEntry) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeSeenTxid, &e.txid),
		tlv.MakePrimitiveRecord(typeSeenAt, &e.seen),
	}
}

type revealEntry struct {
	keychain uint8
	index    uint32
}

func (e *revealEntry) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeRevealKeychain, &e.keychain),
		tlv.MakePrimitiveRecord(typeRevealIndex, &e.index),
	}
}

// entry is an element of a list record, itself encoded as a TLV stream.
type entry[T any] interface {
	*T
	records() []tlv.Record
}

// listEncoder returns a TLV encoder for a slice of entries. Every entry is
// written as a varint length followed by its raw TLV bytes.
func listEncoder[T any, P entry[T]]() tlv.Encoder {
	return func(w io.Writer, val interface{}, buf *[8]byte) error {
		v, ok := val.(*[]T)
		if !ok {
			return tlv.NewTypeForEncodingErr(val, "list entry")
		}

		for i := range *v {
			stream, err := tlv.NewStream(P(&(*v)[i]).records()...)
			if err != nil {
				return err
			}

			var b bytes.Buffer
			if err := stream.Encode(&b); err != nil {
				return err
			}

			err = tlv.WriteVarInt(w, uint64(b.Len()), buf)
			if err != nil {
				return err
			}
			if _, err := w.Write(b.Bytes()); err != nil {
				return err
			}
		}

		return nil
	}
}

// listDecoder returns the TLV decoder matching listEncoder.
func listDecoder[T any, P entry[T]]() tlv.Decoder {
	return func(r io.Reader, val interface{}, buf *[8]byte, l uint64) error {
		v, ok := val.(*[]T)
		if !ok {
			return tlv.NewTypeForDecodingErr(val, "list entry", l, l)
		}

		// The limited reader returns EOF once the record is consumed,
		// which ends the list.
		listReader := &io.LimitedReader{R: r, N: int64(l)}

		var entries []T
		for {
			size, err := tlv.ReadVarInt(listReader, buf)
			if err == io.EOF {
				break
			} else if err != nil {
				return err
			}

			var e T
			stream, err := tlv.NewStream(P(&e).records()...)
			if err != nil {
				return err
			}

			entryReader := &io.LimitedReader{
				R: listReader, N: int64(size),
			}
			if err := stream.Decode(entryReader); err != nil {
				return err
			}
			entries = append(entries, e)
		}

		*v = entries
		return nil
	}
}

// listRecord returns a dynamic record holding a list of entries.
func listRecord[T any, P entry[T]](typ tlv.Type, v *[]T) tlv.Record {
	encoder := listEncoder[T, P]()
	return tlv.MakeDynamicRecord(typ, v, func() uint64 {
		return recordSize(encoder, v)
	}, encoder, listDecoder[T, P]())
}

// recordSize returns the amount of bytes this TLV record will occupy when
// encoded.
func recordSize(encoder tlv.Encoder, v interface{}) uint64 {
	var (
		b   bytes.Buffer
		buf [8]byte
	)

	if err := encoder(&b, v, &buf); err != nil {
		log.Errorf("encoding the record failed: %v", err)
	}

	return uint64(len(b.Bytes()))
}

// listsOf flattens a change-set into sorted entry lists so that equal
// change-sets produce equal encodings.
func listsOf(c *ChangeSet) ([]blockEntry, []txEntry, []anchorEntry,
	[]seenEntry, []revealEntry, error) {

	blocks := make([]blockEntry, 0, len(c.LocalChain.Blocks))
	for _, height := range c.LocalChain.Heights() {
		e := blockEntry{height: height}
		c.LocalChain.Blocks[height].WhenSome(func(h chainhash.Hash) {
			e.present = 1
			e.hash = h
		})
		blocks = append(blocks, e)
	}

	txids := make([]chainhash.Hash, 0, len(c.TxGraph.Txs))
	for txid := range c.TxGraph.Txs {
		txids = append(txids, txid)
	}
	sortHashes(txids)

	txs := make([]txEntry, 0, len(txids))
	for _, txid := range txids {
		var b bytes.Buffer
		if err := c.TxGraph.Txs[txid].Serialize(&b); err != nil {
			return nil, nil, nil, nil, nil, err
		}
		txs = append(txs, txEntry{raw: b.Bytes()})
	}

	anchors := make([]anchorEntry, 0, len(c.TxGraph.Anchors))
	for a := range c.TxGraph.Anchors {
		anchors = append(anchors, anchorEntry{
			txid:   a.Txid,
			height: a.Anchor.Block.Height,
			hash:   a.Anchor.Block.Hash,
			time:   a.Anchor.ConfirmationTime,
		})
	}
	sort.Slice(anchors, func(i, j int) bool {
		a, b := anchors[i], anchors[j]
		if cmp := bytes.Compare(a.txid[:], b.txid[:]); cmp != 0 {
			return cmp < 0
		}
		if a.height != b.height {
			return a.height < b.height
		}
		return bytes.Compare(a.hash[:], b.hash[:]) < 0
	})

	seen := make([]seenEntry, 0, len(c.TxGraph.LastSeen))
	for txid, at := range c.TxGraph.LastSeen {
		seen = append(seen, seenEntry{txid: txid, seen: at})
	}
	sort.Slice(seen, func(i, j int) bool {
		return bytes.Compare(seen[i].txid[:], seen[j].txid[:]) < 0
	})

	revealed := make([]revealEntry, 0, len(c.Indexer.LastRevealed))
	for k, index := range c.Indexer.LastRevealed {
		revealed = append(revealed, revealEntry{
			keychain: uint8(k), index: index,
		})
	}
	sort.Slice(revealed, func(i, j int) bool {
		return revealed[i].keychain < revealed[j].keychain
	})

	return blocks, txs, anchors, seen, revealed, nil
}

func sortHashes(hashes []chainhash.Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
}

// Encode writes the change-set as a TLV stream. Descriptors are written in
// their public form.
func (c *ChangeSet) Encode(w io.Writer) error {
	blocks, txs, anchors, seen, revealed, err := listsOf(c)
	if err != nil {
		return err
	}

	var records []tlv.Record
	c.Descriptor.WhenSome(func(d *descriptor.Descriptor) {
		desc := []byte(d.PublicString())
		records = append(records, tlv.MakePrimitiveRecord(
			typeDescriptor, &desc,
		))
	})
	c.ChangeDescriptor.WhenSome(func(d *descriptor.Descriptor) {
		desc := []byte(d.PublicString())
		records = append(records, tlv.MakePrimitiveRecord(
			typeChangeDescriptor, &desc,
		))
	})
	c.Network.WhenSome(func(n netparams.Network) {
		net := uint8(n)
		records = append(records, tlv.MakePrimitiveRecord(
			typeNetwork, &net,
		))
	})

	if len(blocks) > 0 {
		records = append(records, listRecord[blockEntry](
			typeBlocks, &blocks,
		))
	}
	if len(txs) > 0 {
		records = append(records, listRecord[txEntry](typeTxs, &txs))
	}
	if len(anchors) > 0 {
		records = append(records, listRecord[anchorEntry](
			typeAnchors, &anchors,
		))
	}
	if len(seen) > 0 {
		records = append(records, listRecord[seenEntry](
			typeLastSeen, &seen,
		))
	}
	if len(revealed) > 0 {
		records = append(records, listRecord[revealEntry](
			typeLastRevealed, &revealed,
		))
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Bytes returns the TLV encoding of the change-set.
func (c *ChangeSet) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := c.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeChangeSet reads a change-set written by Encode. A change-set that
// carries descriptors must also carry its network.
func DecodeChangeSet(r io.Reader) (*ChangeSet, error) {
	var (
		desc, changeDesc []byte
		net              uint8
		blocks           []blockEntry
		txs              []txEntry
		anchors          []anchorEntry
		seen             []seenEntry
		revealed         []revealEntry
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeDescriptor, &desc),
		tlv.MakePrimitiveRecord(typeChangeDescriptor, &changeDesc),
		tlv.MakePrimitiveRecord(typeNetwork, &net),
		listRecord[blockEntry](typeBlocks, &blocks),
		listRecord[txEntry](typeTxs, &txs),
		listRecord[anchorEntry](typeAnchors, &anchors),
		listRecord[seenEntry](typeLastSeen, &seen),
		listRecord[revealEntry](typeLastRevealed, &revealed),
	)
	if err != nil {
		return nil, err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChangeSet, err)
	}
	parsed := func(typ tlv.Type) bool {
		t, ok := parsedTypes[typ]
		return ok && t == nil
	}

	cs := NewChangeSet()

	if parsed(typeNetwork) {
		n := netparams.Network(net)
		if !n.IsValid() {
			return nil, fmt.Errorf("%w: %w", ErrInvalidChangeSet,
				netparams.ErrUnknownNetwork)
		}
		cs.Network = fn.Some(n)
	}

	parseDesc := func(typ tlv.Type,
		s []byte) (fn.Option[*descriptor.Descriptor], error) {

		if !parsed(typ) {
			return fn.None[*descriptor.Descriptor](), nil
		}
		if cs.Network.IsNone() {
			return fn.None[*descriptor.Descriptor](), fmt.Errorf(
				"%w: descriptor without network",
				ErrInvalidChangeSet)
		}

		params := cs.Network.UnsafeFromSome().MustParams()
		d, err := descriptor.Parse(string(s), params)
		if err != nil {
			return fn.None[*descriptor.Descriptor](), fmt.Errorf(
				"%w: %w", ErrInvalidChangeSet, err)
		}
		return fn.Some(d), nil
	}
	if cs.Descriptor, err = parseDesc(typeDescriptor, desc); err != nil {
		return nil, err
	}
	cs.ChangeDescriptor, err = parseDesc(typeChangeDescriptor, changeDesc)
	if err != nil {
		return nil, err
	}

	for _, e := range blocks {
		hash := fn.None[chainhash.Hash]()
		if e.present != 0 {
			hash = fn.Some(chainhash.Hash(e.hash))
		}
		cs.LocalChain.Blocks[e.height] = hash
	}

	for _, e := range txs {
		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(e.raw)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidChangeSet,
				err)
		}
		cs.TxGraph.Txs[tx.TxHash()] = tx
	}

	for _, e := range anchors {
		cs.TxGraph.Anchors[wtxmgr.TxAnchor{
			Txid: e.txid,
			Anchor: wtxmgr.Anchor{
				Block: checkpoint.BlockID{
					Height: e.height,
					Hash:   e.hash,
				},
				ConfirmationTime: e.time,
			},
		}] = struct{}{}
	}

	for _, e := range seen {
		cs.TxGraph.LastSeen[e.txid] = e.seen
	}

	for _, e := range revealed {
		k := waddrmgr.KeychainKind(e.keychain)
		if k != waddrmgr.External && k != waddrmgr.Internal {
			return nil, fmt.Errorf("%w: %w %d", ErrInvalidChangeSet,
				waddrmgr.ErrUnknownKeychain, e.keychain)
		}
		cs.Indexer.LastRevealed[k] = e.index
	}

	return cs, nil
}

// DecodeChangeSetBytes decodes a change-set from its TLV encoding.
func DecodeChangeSetBytes(b []byte) (*ChangeSet, error) {
	return DecodeChangeSet(bytes.NewReader(b))
}
