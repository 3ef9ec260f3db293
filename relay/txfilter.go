// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/lru"
)

// DefaultTxFilterSize is the default number of transaction hashes remembered
// by the dedup filter.
const DefaultTxFilterSize = 50000

// TxFilter remembers the most recently handled transaction hashes across all
// peers.  Once full, the least recently seen hash is evicted.
type TxFilter struct {
	mtx   sync.Mutex
	cache lru.Cache
}

// NewTxFilter returns a filter that remembers up to limit hashes.  A limit of
// zero remembers nothing.
func NewTxFilter(limit uint) *TxFilter {
	return &TxFilter{cache: lru.NewCache(limit)}
}

// AlreadyKnown reports whether hash was already handled and marks it as
// handled if it was not.  For concurrent calls with the same hash exactly one
// caller sees false.
//
// This function is safe for concurrent access.
func (f *TxFilter) AlreadyKnown(hash chainhash.Hash) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	// Contains refreshes the entry so hashes that keep being relayed are
	// not evicted.
	if f.cache.Contains(hash) {
		return true
	}
	f.cache.Add(hash)
	return false
}
