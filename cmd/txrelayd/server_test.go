// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/txrelay/banman"
	"github.com/btcsuite/txrelay/mempool"
	"github.com/btcsuite/txrelay/peer"
	"github.com/btcsuite/txrelay/relay"
	"github.com/btcsuite/txrelay/relaywire"
)

const testTimeout = 5 * time.Second

// testTx returns a small transaction whose hash is unique for every seed.
func testTx(seed uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x33},
			Index: seed,
		},
		Sequence: wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: 5000, PkScript: []byte{0x51}})
	return tx
}

// serverHarness runs a server listening on the loopback interface.
type serverHarness struct {
	server *server
	banMgr *banman.BanManager
	pool   *mempool.MockTxMempool
	addr   string
}

func newServerHarness(t *testing.T, maxPeers int) *serverHarness {
	t.Helper()

	cfg := &config{
		Listeners:     []string{"127.0.0.1:0"},
		MaxPeers:      maxPeers,
		MaxRelayPeers: relay.DefaultMaxRelayPeers,
		relayNet:      relaywire.TestNet,
	}
	banMgr, err := banman.New(nil)
	require.NoError(t, err)

	pool := &mempool.MockTxMempool{}
	s, err := newServer(cfg, banMgr, relay.Config{TxPool: pool})
	require.NoError(t, err)
	require.Len(t, s.listeners, 1)

	s.Start()
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
		s.WaitForShutdown()
	})

	return &serverHarness{
		server: s,
		banMgr: banMgr,
		pool:   pool,
		addr:   s.listeners[0].Addr().String(),
	}
}

// connect dials the server and waits until it counts want connected peers.
func (h *serverHarness) connect(t *testing.T, want int32) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", h.addr, testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return h.server.ConnectedCount() == want
	}, testTimeout, 10*time.Millisecond)

	return conn
}

func sendTx(t *testing.T, conn net.Conn, tx *wire.MsgTx, cycles uint64) {
	t.Helper()

	msg := relaywire.NewMsgRelayTx(tx, cycles)
	err := relaywire.WriteMessage(conn, msg, relaywire.ProtocolVersion,
		relaywire.TestNet)
	require.NoError(t, err)
}

func readMsg(conn net.Conn) (relaywire.Message, error) {
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	msg, _, err := relaywire.ReadMessage(conn, relaywire.ProtocolVersion,
		relaywire.TestNet)
	return msg, err
}

// TestServerRelaysAcceptedTx ensures a transaction accepted from one peer is
// relayed to the other peers but not back to its origin.
func TestServerRelaysAcceptedTx(t *testing.T) {
	h := newServerHarness(t, 8)
	origin := h.connect(t, 1)
	other := h.connect(t, 2)

	tx := testTx(1)
	h.pool.On("ProcessTransaction", mock.Anything).
		Return(mempool.Cycles(700), nil).Once()

	sendTx(t, origin, tx, 700)

	msg, err := readMsg(other)
	require.NoError(t, err)
	relayed, ok := msg.(*relaywire.MsgRelayTx)
	require.True(t, ok)
	require.Equal(t, tx.TxHash(), relayed.Tx.TxHash())
	require.EqualValues(t, 700, relayed.Cycles)

	// Nothing is echoed back to the origin.
	origin.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = relaywire.ReadMessage(origin, relaywire.ProtocolVersion,
		relaywire.TestNet)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())

	h.pool.AssertExpectations(t)
}

// TestServerBansInvalidTxPeer ensures relaying an invalid transaction gets
// the host banned, disconnected, and refused on reconnect.
func TestServerBansInvalidTxPeer(t *testing.T) {
	h := newServerHarness(t, 8)
	offender := h.connect(t, 1)

	rejectErr := mempool.InvalidTxError{
		RejectCode:  wire.RejectInvalid,
		Description: "transaction has no outputs",
	}
	h.pool.On("ProcessTransaction", mock.Anything).
		Return(mempool.Cycles(0), rejectErr).Once()

	sendTx(t, offender, testTx(2), 100)

	_, err := readMsg(offender)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		banned, _ := h.banMgr.IsBanned("127.0.0.1")
		return banned
	}, testTimeout, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.server.ConnectedCount() == 0
	}, testTimeout, 10*time.Millisecond)

	// A new connection from the banned host is closed straight away.
	conn, err := net.DialTimeout("tcp", h.addr, testTimeout)
	require.NoError(t, err)
	defer conn.Close()
	_, err = readMsg(conn)
	require.Error(t, err)
	require.EqualValues(t, 0, h.server.ConnectedCount())
}

// TestServerBansPeerThatDisconnects ensures a peer that relays an invalid
// transaction and closes its connection right away is still banned.
func TestServerBansPeerThatDisconnects(t *testing.T) {
	h := newServerHarness(t, 8)
	offender := h.connect(t, 1)

	rejectErr := mempool.InvalidTxError{
		RejectCode:  wire.RejectInvalid,
		Description: "transaction has no outputs",
	}
	h.pool.On("ProcessTransaction", mock.Anything).
		Return(mempool.Cycles(0), rejectErr).Once()

	sendTx(t, offender, testTx(3), 100)
	require.NoError(t, offender.Close())

	require.Eventually(t, func() bool {
		banned, _ := h.banMgr.IsBanned("127.0.0.1")
		return banned
	}, testTimeout, 10*time.Millisecond)
	h.pool.AssertExpectations(t)
}

// TestServerBanBeforePeerHandler ensures a ban is recorded when it is issued,
// whatever order the peer handler later sees the ban, the new peer and the
// disconnect in.
func TestServerBanBeforePeerHandler(t *testing.T) {
	cfg := &config{
		MaxPeers:      8,
		MaxRelayPeers: relay.DefaultMaxRelayPeers,
		relayNet:      relaywire.TestNet,
	}
	banMgr, err := banman.New(nil)
	require.NoError(t, err)
	s, err := newServer(cfg, banMgr, relay.Config{TxPool: &mempool.MockTxMempool{}})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		local, remote := net.Pipe()
		p := peer.NewInboundPeer(&s.peerCfg, local)
		s.startPeer(p)
		id := relay.PeerID(p.ID())

		// The peer handler is not running, so neither the new peer
		// nor the ban has been handled when BanPeer returns.
		s.BanPeer(id, time.Hour)
		banned, _ := banMgr.IsBanned(p.Host())
		require.True(t, banned, "iteration %d", i)

		remote.Close()
		p.WaitForDisconnect()
		require.NoError(t, banMgr.Unban(p.Host()))

		// Drain what the handler would have seen.
		<-s.banPeers
		require.Eventually(t, func() bool {
			select {
			case <-s.donePeers:
				return true
			default:
				return false
			}
		}, testTimeout, time.Millisecond)

		_, ok := s.peerHost(id)
		require.False(t, ok, "host of a gone peer is kept")
	}
}

// TestServerMaxPeers ensures connections beyond the peer limit are dropped.
func TestServerMaxPeers(t *testing.T) {
	h := newServerHarness(t, 1)
	h.connect(t, 1)

	conn, err := net.DialTimeout("tcp", h.addr, testTimeout)
	require.NoError(t, err)
	defer conn.Close()

	_, err = readMsg(conn)
	require.Error(t, err)
	require.EqualValues(t, 1, h.server.ConnectedCount())
}

// TestServerConnectionManager exercises the relay.ConnManager methods for
// unknown peers, which must be ignored.
func TestServerConnectionManager(t *testing.T) {
	h := newServerHarness(t, 8)
	h.connect(t, 1)

	ids := h.server.ConnectedPeers()
	require.Len(t, ids, 1)

	h.server.SendMessage(ids[0]+1000, []byte{0x01})
	h.server.BanPeer(ids[0]+1000, time.Hour)
	require.Empty(t, h.banMgr.BannedHosts())
	require.Equal(t, ids, h.server.ConnectedPeers())
}

// TestServerOutboundPeer ensures a configured peer is dialed and registered
// as a connected peer.
func TestServerOutboundPeer(t *testing.T) {
	remote := newServerHarness(t, 8)

	cfg := &config{
		ConnectPeers:  []string{remote.addr},
		MaxPeers:      8,
		MaxRelayPeers: relay.DefaultMaxRelayPeers,
		relayNet:      relaywire.TestNet,
	}
	banMgr, err := banman.New(nil)
	require.NoError(t, err)
	s, err := newServer(cfg, banMgr, relay.Config{TxPool: &mempool.MockTxMempool{}})
	require.NoError(t, err)
	require.Empty(t, s.listeners)

	s.Start()
	defer func() {
		require.NoError(t, s.Stop())
		s.WaitForShutdown()
	}()

	require.Eventually(t, func() bool {
		return s.ConnectedCount() == 1 && remote.server.ConnectedCount() == 1
	}, testTimeout, 10*time.Millisecond)
}
