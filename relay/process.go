// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/txrelay/mempool"
)

// txProcess handles a single relayed transaction from start to finish.
type txProcess struct {
	r              *Relayer
	peer           PeerID
	tx             *btcutil.Tx
	declaredCycles mempool.Cycles
}

// execute runs the transaction through the dedup filter and the pool and
// acts on the result.  At most one shared lock is held at any time and none
// is held while the pool runs.
func (p *txProcess) execute() Outcome {
	txHash := p.tx.Hash()

	// The filter is keyed on the witness hash: copies differing only in
	// witness data are distinct.
	if p.r.txFilter.AlreadyKnown(*p.tx.WitnessHash()) {
		log.Debugf("Ignoring transaction %v from peer %d: already known",
			txHash, p.peer)
		return Duplicate
	}

	cycles, err := p.r.cfg.TxPool.ProcessTransaction(p.tx)
	if err != nil {
		return p.handleRejection(err)
	}

	if cycles != p.declaredCycles {
		log.Debugf("Peer %d relayed transaction %v with wrong cycles: "+
			"real %d, declared %d", p.peer, txHash, cycles,
			p.declaredCycles)
		p.r.banPeer(p.peer, fmt.Sprintf("transaction %v cycles "+
			"mismatch: real %d, declared %d", txHash, cycles,
			p.declaredCycles))
		return CostMismatch
	}

	log.Debugf("Accepted transaction %v from peer %d (%d cycles)", txHash,
		p.peer, cycles)
	p.r.broadcastTx(p.peer, p.tx, cycles)
	return Broadcast
}

// handleRejection classifies a pool error and applies the consequence for the
// relaying peer.
func (p *txProcess) handleRejection(err error) Outcome {
	txHash := p.tx.Hash()

	var rerr mempool.RejectError
	if !errors.As(err, &rerr) {
		// The pool could not decide, so the peer gets the benefit of
		// the doubt.
		log.Warnf("Unable to process transaction %v from peer %d: %v",
			txHash, p.peer, err)
		return TransientRejected
	}

	switch rerr := rerr.(type) {
	case mempool.InvalidTxError:
		log.Debugf("Peer %d relayed invalid transaction %v: %v", p.peer,
			txHash, rerr)
		p.r.banPeer(p.peer, fmt.Sprintf("invalid transaction %v: %v",
			txHash, rerr))
		p.r.cfg.Alerter.Alert(&InvalidTxAlert{
			Peer:        p.peer,
			BanDuration: p.r.cfg.BanDuration,
			TxHash:      *txHash,
			Err:         rerr,
		})
		return InvalidRejected

	case mempool.TransientTxError:
		log.Debugf("Rejected transaction %v from peer %d: %v", txHash,
			p.peer, rerr)
		return TransientRejected

	default:
		log.Warnf("Unknown rejection %T for transaction %v from peer "+
			"%d: %v", rerr, txHash, p.peer, rerr)
		return TransientRejected
	}
}
