// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package utxostore provides lookups of unspent transaction outputs on top of
// a key/value engine.  The transaction pool resolves the inputs of relayed
// transactions through it.
package utxostore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txrelay/database/engine"
)

// utxoKeyPrefix namespaces unspent output records in the engine.
var utxoKeyPrefix = []byte("u")

// utxoKeyLen is the length of a serialized outpoint key: prefix, hash, index.
const utxoKeyLen = 1 + chainhash.HashSize + 4

// Store is an unspent output set persisted in an engine.
//
// Values are serialized as an 8-byte little-endian amount followed by the
// public key script.
type Store struct {
	db engine.DB
}

// New returns a store backed by db.
func New(db engine.DB) *Store {
	return &Store{db: db}
}

func outpointKey(op wire.OutPoint) []byte {
	key := make([]byte, utxoKeyLen)
	copy(key, utxoKeyPrefix)
	copy(key[1:], op.Hash[:])
	binary.BigEndian.PutUint32(key[1+chainhash.HashSize:], op.Index)
	return key
}

func serializeTxOut(out *wire.TxOut) []byte {
	buf := make([]byte, 8+len(out.PkScript))
	binary.LittleEndian.PutUint64(buf, uint64(out.Value))
	copy(buf[8:], out.PkScript)
	return buf
}

func deserializeTxOut(buf []byte) (*wire.TxOut, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("malformed utxo entry: %d bytes", len(buf))
	}
	pkScript := make([]byte, len(buf)-8)
	copy(pkScript, buf[8:])
	return wire.NewTxOut(int64(binary.LittleEndian.Uint64(buf)), pkScript), nil
}

// FetchUtxo returns the unspent output referenced by op.  A nil output and a
// nil error are returned when the output does not exist or is spent.
//
// This function is safe for concurrent access.
func (s *Store) FetchUtxo(op wire.OutPoint) (*wire.TxOut, error) {
	var out *wire.TxOut
	err := engine.View(s.db, func(snap engine.Snapshot) error {
		buf, err := snap.Get(outpointKey(op))
		if errors.Is(err, engine.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = deserializeTxOut(buf)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch utxo %v: %w", op, err)
	}
	return out, nil
}

// PutUtxo records out as the unspent output referenced by op.
func (s *Store) PutUtxo(op wire.OutPoint, out *wire.TxOut) error {
	return engine.Update(s.db, func(batch engine.Batch) error {
		return batch.Put(outpointKey(op), serializeTxOut(out))
	})
}

// AddTxOuts records every output of msgTx as unspent.
func (s *Store) AddTxOuts(msgTx *wire.MsgTx) error {
	txHash := msgTx.TxHash()
	return engine.Update(s.db, func(batch engine.Batch) error {
		for i, out := range msgTx.TxOut {
			op := wire.OutPoint{Hash: txHash, Index: uint32(i)}
			if err := batch.Put(outpointKey(op), serializeTxOut(out)); err != nil {
				return err
			}
		}
		return nil
	})
}

// SpendUtxo removes the output referenced by op.  Removing an output that
// does not exist is not an error.
func (s *Store) SpendUtxo(op wire.OutPoint) error {
	return engine.Update(s.db, func(batch engine.Batch) error {
		return batch.Delete(outpointKey(op))
	})
}

// ConnectTx applies a confirmed transaction to the set in a single batch: the
// outputs it spends are removed and its own outputs are added.  The inputs of
// a coinbase are not spent.
func (s *Store) ConnectTx(msgTx *wire.MsgTx) error {
	txHash := msgTx.TxHash()
	return engine.Update(s.db, func(batch engine.Batch) error {
		if !blockchain.IsCoinBaseTx(msgTx) {
			for _, txIn := range msgTx.TxIn {
				err := batch.Delete(outpointKey(txIn.PreviousOutPoint))
				if err != nil {
					return err
				}
			}
		}
		for i, out := range msgTx.TxOut {
			op := wire.OutPoint{Hash: txHash, Index: uint32(i)}
			if err := batch.Put(outpointKey(op), serializeTxOut(out)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of unspent outputs in the store.
func (s *Store) Count() (int, error) {
	var n int
	err := engine.View(s.db, func(snap engine.Snapshot) error {
		return engine.ForEach(snap, utxoKeyPrefix, func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}
