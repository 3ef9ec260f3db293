// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/lru"
)

// DefaultKnownTxsPerPeer is the default number of transaction hashes
// remembered for each peer.
const DefaultKnownTxsPerPeer = 500

// removedPeersLimit is the number of removed peer ids remembered so that a
// late relay decision cannot start tracking them again.
const removedPeersLimit = 1024

// KnownTxs tracks which transactions each peer is known to have, either
// because the peer sent them or because they were relayed to it.
type KnownTxs struct {
	mtx     sync.Mutex
	perPeer uint
	peers   map[PeerID]*lru.Cache

	// removed holds the most recent ids passed to RemovePeer.
	removed lru.Cache
}

// NewKnownTxs returns a tracker remembering up to perPeer hashes for every
// peer.
func NewKnownTxs(perPeer uint) *KnownTxs {
	return &KnownTxs{
		perPeer: perPeer,
		peers:   make(map[PeerID]*lru.Cache),
		removed: lru.NewCache(removedPeersLimit),
	}
}

// markLocked records that peer knows hash and returns whether it was already
// recorded.  A removed peer is reported as knowing hash and is not tracked
// again.
//
// This function MUST be called with the tracker lock held.
func (k *KnownTxs) markLocked(peer PeerID, hash chainhash.Hash) bool {
	if k.removed.Contains(peer) {
		return true
	}

	known, ok := k.peers[peer]
	if !ok {
		cache := lru.NewCache(k.perPeer)
		known = &cache
		k.peers[peer] = known
	}
	if known.Contains(hash) {
		return true
	}
	known.Add(hash)
	return false
}

// MarkAndCheck records that peer knows hash and returns whether it was
// already recorded before the call.  It always returns true for a peer
// passed to RemovePeer.
//
// This function is safe for concurrent access.
func (k *KnownTxs) MarkAndCheck(peer PeerID, hash chainhash.Hash) bool {
	k.mtx.Lock()
	defer k.mtx.Unlock()

	return k.markLocked(peer, hash)
}

// selectRelayTargets picks at most maxPeers of peers to receive hash.  The
// origin is never selected and is marked as knowing hash only when it is one
// of peers.  Peers that already know hash are skipped.  Selected peers are
// marked as knowing hash; other peers past the cap are left untouched.
// Selection keeps the order of peers.
//
// This function is safe for concurrent access.
func (k *KnownTxs) selectRelayTargets(peers []PeerID, origin PeerID,
	hash chainhash.Hash, maxPeers int) []PeerID {

	k.mtx.Lock()
	defer k.mtx.Unlock()

	n := len(peers)
	if n > maxPeers {
		n = maxPeers
	}
	targets := make([]PeerID, 0, n)
	for _, peer := range peers {
		if peer == origin {
			k.markLocked(origin, hash)
			continue
		}
		if len(targets) >= maxPeers {
			continue
		}
		if k.markLocked(peer, hash) {
			continue
		}
		targets = append(targets, peer)
	}
	return targets
}

// RemovePeer forgets everything recorded for peer and stops tracking it.
//
// This function is safe for concurrent access.
func (k *KnownTxs) RemovePeer(peer PeerID) {
	k.mtx.Lock()
	delete(k.peers, peer)
	k.removed.Add(peer)
	k.mtx.Unlock()
}

// Count returns the number of peers with recorded transactions.
//
// This function is safe for concurrent access.
func (k *KnownTxs) Count() int {
	k.mtx.Lock()
	defer k.mtx.Unlock()

	return len(k.peers)
}
