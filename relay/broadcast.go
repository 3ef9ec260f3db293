// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/txrelay/mempool"
	"github.com/btcsuite/txrelay/relaywire"
)

// DefaultMaxRelayPeers is the default maximum number of peers an accepted
// transaction is relayed to.
const DefaultMaxRelayPeers = 128

// broadcastTx relays tx with its cycles to at most MaxRelayPeers connected
// peers other than origin that are not known to have it.  The frame is
// encoded once and the same bytes are queued for every target.  It returns
// the number of peers the frame was queued for.
func (r *Relayer) broadcastTx(origin PeerID, tx *btcutil.Tx,
	cycles mempool.Cycles) int {

	msg := relaywire.NewMsgRelayTx(tx.MsgTx(), uint64(cycles))
	frame, err := relaywire.EncodeMessage(msg, r.cfg.ProtocolVersion,
		r.cfg.Net)
	if err != nil {
		log.Errorf("Unable to encode relay message for %v: %v",
			tx.Hash(), err)
		return 0
	}

	peers := r.cfg.ConnManager.ConnectedPeers()
	targets := r.knownTxs.selectRelayTargets(peers, origin, *tx.Hash(),
		r.cfg.MaxRelayPeers)

	// No lock is held while handing frames to the connection layer.
	for _, peer := range targets {
		r.cfg.ConnManager.SendMessage(peer, frame)
	}

	r.metrics.fanout.Observe(float64(len(targets)))
	log.Debugf("Relayed transaction %v to %d of %d peers", tx.Hash(),
		len(targets), len(peers))
	return len(targets)
}
