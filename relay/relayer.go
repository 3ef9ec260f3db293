// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/txrelay/mempool"
	"github.com/btcsuite/txrelay/relaywire"
	"github.com/davecgh/go-spew/spew"
	"github.com/prometheus/client_golang/prometheus"
)

// Config is a descriptor containing the relayer configuration.
type Config struct {
	// TxPool validates relayed transactions and computes their cycles.
	TxPool TxPool

	// ConnManager enumerates peers, delivers frames and bans peers.
	ConnManager ConnManager

	// Alerter receives an alert for every peer banned for relaying an
	// invalid transaction.  Alerts are logged when nil.
	Alerter Alerter

	// Net and ProtocolVersion select the encoding of relayed frames.
	Net             relaywire.RelayNet
	ProtocolVersion uint32

	// TxFilterSize is the number of transaction hashes remembered across
	// all peers.  Zero selects DefaultTxFilterSize.
	TxFilterSize uint

	// KnownTxsPerPeer is the number of transaction hashes remembered for
	// every peer.  Zero selects DefaultKnownTxsPerPeer.
	KnownTxsPerPeer uint

	// MaxRelayPeers caps the number of peers an accepted transaction is
	// relayed to.  Zero selects DefaultMaxRelayPeers.
	MaxRelayPeers int

	// BanDuration is how long offending peers are banned.  Zero selects
	// DefaultBanDuration.
	BanDuration time.Duration

	// StatsInterval is the minimum time between two relay stats log
	// lines.  Zero selects DefaultStatsInterval.
	StatsInterval time.Duration

	// Registerer receives the relay metrics.  It may be nil.
	Registerer prometheus.Registerer
}

// Relayer decides what happens to every transaction relayed by a peer.  A
// single Relayer is shared by all peers and is safe for concurrent access.
type Relayer struct {
	cfg      Config
	txFilter *TxFilter
	knownTxs *KnownTxs
	metrics  *relayMetrics
	stats    *relayStatsLogger
}

// New returns a relayer for the passed configuration.
func New(cfg *Config) (*Relayer, error) {
	if cfg.TxPool == nil {
		return nil, errors.New("relay: nil transaction pool")
	}
	if cfg.ConnManager == nil {
		return nil, errors.New("relay: nil connection manager")
	}

	c := *cfg
	if c.Alerter == nil {
		c.Alerter = logAlerter{}
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = relaywire.ProtocolVersion
	}
	if c.TxFilterSize == 0 {
		c.TxFilterSize = DefaultTxFilterSize
	}
	if c.KnownTxsPerPeer == 0 {
		c.KnownTxsPerPeer = DefaultKnownTxsPerPeer
	}
	if c.MaxRelayPeers <= 0 {
		c.MaxRelayPeers = DefaultMaxRelayPeers
	}
	if c.BanDuration <= 0 {
		c.BanDuration = DefaultBanDuration
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = DefaultStatsInterval
	}

	metrics, err := newRelayMetrics(c.Registerer)
	if err != nil {
		return nil, err
	}

	return &Relayer{
		cfg:      c,
		txFilter: NewTxFilter(c.TxFilterSize),
		knownTxs: NewKnownTxs(c.KnownTxsPerPeer),
		metrics:  metrics,
		stats:    newRelayStatsLogger(c.StatsInterval, log),
	}, nil
}

// HandleRelayTx processes a transaction relayed by peer and returns what was
// done with it.  Misbehavior is dealt with by banning the peer, never by
// returning an error.
//
// This function is safe for concurrent access.
func (r *Relayer) HandleRelayTx(peer PeerID, msg *relaywire.MsgRelayTx) Outcome {
	log.Tracef("Received relayed transaction from peer %d: %v", peer,
		newLogClosure(func() string {
			return spew.Sdump(msg)
		}))

	p := txProcess{
		r:              r,
		peer:           peer,
		tx:             btcutil.NewTx(msg.Tx),
		declaredCycles: mempool.Cycles(msg.Cycles),
	}
	outcome := p.execute()

	r.metrics.outcomes.WithLabelValues(outcome.String()).Inc()
	r.stats.LogOutcome(outcome)
	return outcome
}

// PeerDisconnected forgets the transactions recorded for peer.
//
// This function is safe for concurrent access.
func (r *Relayer) PeerDisconnected(peer PeerID) {
	r.knownTxs.RemovePeer(peer)
}
