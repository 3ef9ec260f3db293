// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/txrelay/mempool"
)

// PeerID identifies one live connection.  An id is never reused for another
// connection within the same process.
type PeerID int32

// TxPool is the transaction pool relayed transactions are submitted to.
//
// ProcessTransaction returns the cycles the pool computed for an admitted
// transaction.  A rejection must be a mempool.InvalidTxError or a
// mempool.TransientTxError; any other error is treated as inconclusive.
type TxPool interface {
	ProcessTransaction(tx *btcutil.Tx) (mempool.Cycles, error)
}

// ConnManager is the connection layer the relayer drives.  None of its
// methods may block on network I/O.
type ConnManager interface {
	// ConnectedPeers returns a snapshot of the currently connected peers.
	ConnectedPeers() []PeerID

	// SendMessage queues an encoded frame for delivery to peer.  Delivery
	// is not confirmed.
	SendMessage(peer PeerID, frame []byte)

	// BanPeer disconnects peer and refuses it for duration.  Banning an
	// unknown or already banned peer is not an error.
	BanPeer(peer PeerID, duration time.Duration)
}
