// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrNotInPool is returned by FetchTransaction for an unknown transaction.
var ErrNotInPool = errors.New("transaction is not in the pool")

// UtxoSource resolves outputs that are already confirmed.  FetchUtxo returns a
// nil output and a nil error when the output does not exist or is spent.
type UtxoSource interface {
	FetchUtxo(outpoint wire.OutPoint) (*wire.TxOut, error)
}

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// Policy bounds the size and cycles of admitted transactions.
	Policy Policy

	// UtxoSource resolves the confirmed outputs spent by a transaction.
	// Without one only outputs of pooled transactions can be spent.
	UtxoSource UtxoSource

	// ScriptFlags are the flags the script engine runs input scripts
	// with.
	ScriptFlags txscript.ScriptFlags

	// SigCache defines a signature cache to use.  It may be nil.
	SigCache *txscript.SigCache
}

// TxDesc describes a pooled transaction.
type TxDesc struct {
	Tx *btcutil.Tx

	// Added is when the transaction was admitted.
	Added time.Time

	// Fee is the input value not claimed by outputs.
	Fee int64

	// Cycles is the cost computed on admission.
	Cycles Cycles
}

// TxPool holds the transactions admitted from relay and computes their cycle
// cost.  It is safe for concurrent access from multiple peers.
type TxPool struct {
	lastUpdated atomic.Int64 // unix nanoseconds

	mtx     sync.RWMutex
	cfg     Config
	entries map[chainhash.Hash]*TxDesc

	// spentBy maps every outpoint spent by a pooled transaction to that
	// transaction.
	spentBy map[wire.OutPoint]*TxDesc
}

func (mp *TxPool) touch() {
	mp.lastUpdated.Store(time.Now().UnixNano())
}

// HaveTransaction returns whether the transaction is in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	_, ok := mp.entries[*hash]
	return ok
}

// FetchTransaction returns the pooled transaction with the given hash or
// ErrNotInPool.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	if desc, ok := mp.entries[*txHash]; ok {
		return desc.Tx, nil
	}
	return nil, ErrNotInPool
}

// RemoveTransaction evicts tx.  With withDescendants set every pooled
// transaction spending its outputs, directly or through other pooled
// transactions, is evicted as well.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(tx *btcutil.Tx, withDescendants bool) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	queue := []*btcutil.Tx{tx}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		if withDescendants {
			hash := *next.Hash()
			for i := range next.MsgTx().TxOut {
				op := wire.OutPoint{Hash: hash, Index: uint32(i)}
				if child, ok := mp.spentBy[op]; ok {
					queue = append(queue, child.Tx)
				}
			}
		}
		mp.evict(next.Hash())
	}
}

// evict drops one transaction and releases its spent outpoints.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) evict(hash *chainhash.Hash) {
	desc, ok := mp.entries[*hash]
	if !ok {
		return
	}
	for _, txIn := range desc.Tx.MsgTx().TxIn {
		delete(mp.spentBy, txIn.PreviousOutPoint)
	}
	delete(mp.entries, *hash)
	mp.touch()
}

// checkStandalone runs the checks that need nothing but the transaction.
func (mp *TxPool) checkStandalone(tx *btcutil.Tx) error {
	if err := blockchain.CheckTransactionSanity(tx); err != nil {
		return invalidTxError(wire.RejectInvalid, err.Error())
	}
	if blockchain.IsCoinBase(tx) {
		str := fmt.Sprintf("transaction %v is an individual coinbase",
			tx.Hash())
		return invalidTxError(wire.RejectInvalid, str)
	}
	return checkTxSize(tx, mp.cfg.Policy.MaxTxSize)
}

// resolveInputs returns the output spent by each input, in input order.  An
// outpoint already spent in the pool or an output that cannot be found is a
// transient rejection since it depends on what the pool and the chain hold
// right now.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) resolveInputs(tx *btcutil.Tx) ([]*wire.TxOut, error) {
	txIns := tx.MsgTx().TxIn
	for _, txIn := range txIns {
		if other, ok := mp.spentBy[txIn.PreviousOutPoint]; ok {
			str := fmt.Sprintf("output %v already spent by "+
				"transaction %v in the memory pool",
				txIn.PreviousOutPoint, other.Tx.Hash())
			return nil, transientTxError(wire.RejectDuplicate, str)
		}
	}

	prevOuts := make([]*wire.TxOut, 0, len(txIns))
	for i, txIn := range txIns {
		op := txIn.PreviousOutPoint

		var prevOut *wire.TxOut
		if parent, ok := mp.entries[op.Hash]; ok {
			outs := parent.Tx.MsgTx().TxOut
			if op.Index >= uint32(len(outs)) {
				str := fmt.Sprintf("output %v referenced from "+
					"transaction %s:%d does not exist",
					op, tx.Hash(), i)
				return nil, invalidTxError(wire.RejectInvalid, str)
			}
			prevOut = outs[op.Index]
		} else if mp.cfg.UtxoSource != nil {
			var err error
			prevOut, err = mp.cfg.UtxoSource.FetchUtxo(op)
			if err != nil {
				return nil, fmt.Errorf("fetch utxo %v: %w", op, err)
			}
		}

		if prevOut == nil {
			str := fmt.Sprintf("output %v referenced from "+
				"transaction %s:%d either does not exist or "+
				"has already been spent", op, tx.Hash(), i)
			return nil, transientTxError(wire.RejectInvalid, str)
		}
		prevOuts = append(prevOuts, prevOut)
	}
	return prevOuts, nil
}

// checkValue returns the fee paid by tx, rejecting out of range inputs and
// transactions spending more than they take in.
func checkValue(tx *btcutil.Tx, prevOuts []*wire.TxOut) (int64, error) {
	var in, out int64
	for _, prevOut := range prevOuts {
		in += prevOut.Value
		if prevOut.Value < 0 || in > btcutil.MaxSatoshi {
			str := fmt.Sprintf("total value of all transaction "+
				"inputs for %v is out of range", tx.Hash())
			return 0, invalidTxError(wire.RejectInvalid, str)
		}
	}
	for _, txOut := range tx.MsgTx().TxOut {
		out += txOut.Value
	}
	if in < out {
		str := fmt.Sprintf("transaction %v spends %v but only takes in %v",
			tx.Hash(), out, in)
		return 0, invalidTxError(wire.RejectInvalid, str)
	}
	return in - out, nil
}

// admit validates tx against the pool and, when it passes, records it.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) admit(tx *btcutil.Tx) (*TxDesc, error) {
	txHash := tx.Hash()
	if _, ok := mp.entries[*txHash]; ok {
		str := fmt.Sprintf("already have transaction %v", txHash)
		return nil, transientTxError(wire.RejectDuplicate, str)
	}

	if err := mp.checkStandalone(tx); err != nil {
		return nil, err
	}
	prevOuts, err := mp.resolveInputs(tx)
	if err != nil {
		return nil, err
	}
	fee, err := checkValue(tx, prevOuts)
	if err != nil {
		return nil, err
	}

	cycles, err := calcTxCycles(tx, prevOuts, mp.cfg.ScriptFlags,
		mp.cfg.SigCache)
	if err != nil {
		return nil, err
	}
	if cycles > mp.cfg.Policy.MaxTxCycles {
		str := fmt.Sprintf("transaction %v consumes %d cycles which "+
			"is more than the max allowed of %d", txHash, cycles,
			mp.cfg.Policy.MaxTxCycles)
		return nil, invalidTxError(wire.RejectNonstandard, str)
	}

	desc := &TxDesc{
		Tx:     tx,
		Added:  time.Now(),
		Fee:    fee,
		Cycles: cycles,
	}
	mp.entries[*txHash] = desc
	for _, txIn := range tx.MsgTx().TxIn {
		mp.spentBy[txIn.PreviousOutPoint] = desc
	}
	mp.touch()

	n := len(mp.entries)
	log.Debugf("Accepted transaction %v with %d cycles (pool size: %d %s)",
		txHash, cycles, n, pickNoun(n, "transaction", "transactions"))
	return desc, nil
}

// ProcessTransaction validates the passed transaction, admits it to the pool
// and returns the cycles consumed by its scripts.
//
// A rejected transaction yields either an InvalidTxError or a
// TransientTxError.  Any other error means the pool could not decide, for
// example because the utxo source failed.
//
// This function is safe for concurrent access.
func (mp *TxPool) ProcessTransaction(tx *btcutil.Tx) (Cycles, error) {
	log.Tracef("Processing transaction %v", tx.Hash())

	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	desc, err := mp.admit(tx)
	if err != nil {
		return 0, err
	}
	return desc.Cycles, nil
}

// Count returns the number of pooled transactions.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	return len(mp.entries)
}

// TxDescs returns the descriptors of all pooled transactions.  They must be
// treated as read only.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxDescs() []*TxDesc {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	descs := make([]*TxDesc, 0, len(mp.entries))
	for _, desc := range mp.entries {
		descs = append(descs, desc)
	}
	return descs
}

// LastUpdated returns when a transaction was last admitted or evicted.  It is
// the zero time for a pool that never changed.
func (mp *TxPool) LastUpdated() time.Time {
	ns := mp.lastUpdated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// New returns an empty pool.
func New(cfg *Config) *TxPool {
	return &TxPool{
		cfg:     *cfg,
		entries: make(map[chainhash.Hash]*TxDesc),
		spentBy: make(map[wire.OutPoint]*TxDesc),
	}
}
