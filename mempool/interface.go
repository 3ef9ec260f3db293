// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TxMempool is the pool surface the relay layer submits transactions
// through.
type TxMempool interface {
	// ProcessTransaction validates tx, admits it to the pool and returns
	// the cycles its input scripts consumed.  A rejection is an
	// InvalidTxError when the transaction can never be valid and a
	// TransientTxError when it may become acceptable later.
	ProcessTransaction(tx *btcutil.Tx) (Cycles, error)

	// HaveTransaction reports whether the transaction is in the pool.
	HaveTransaction(hash *chainhash.Hash) bool

	// Count returns the number of pooled transactions.
	Count() int
}

var _ TxMempool = (*TxPool)(nil)
