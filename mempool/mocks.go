// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"
)

// MockTxMempool is a testify mock of TxMempool.  ProcessTransaction
// expectations return a Cycles value and an error.
type MockTxMempool struct {
	mock.Mock
}

var _ TxMempool = (*MockTxMempool)(nil)

func (m *MockTxMempool) ProcessTransaction(tx *btcutil.Tx) (Cycles, error) {
	args := m.Called(tx)
	return args.Get(0).(Cycles), args.Error(1)
}

func (m *MockTxMempool) HaveTransaction(hash *chainhash.Hash) bool {
	args := m.Called(hash)
	return args.Bool(0)
}

func (m *MockTxMempool) Count() int {
	args := m.Called()
	return args.Int(0)
}
