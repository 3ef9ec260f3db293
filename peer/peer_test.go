// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txrelay/relaywire"
	"github.com/stretchr/testify/require"
)

// testTx returns a small transaction whose hash is unique for every seed.
func testTx(seed uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x22},
			Index: seed,
		},
		Sequence: wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x51}})
	return tx
}

// pipeHarness wires a peer to the local end of an in-memory connection.
type pipeHarness struct {
	peer   *Peer
	remote net.Conn

	mtx          sync.Mutex
	received     []*relaywire.MsgRelayTx
	disconnected chan struct{}
}

func newPipeHarness(t *testing.T, inbound bool) *pipeHarness {
	t.Helper()

	local, remote := net.Pipe()
	h := &pipeHarness{
		remote:       remote,
		disconnected: make(chan struct{}),
	}
	cfg := &Config{
		Net: relaywire.TestNet,
		Listeners: MessageListeners{
			OnRelayTx: func(p *Peer, msg *relaywire.MsgRelayTx) {
				h.mtx.Lock()
				h.received = append(h.received, msg)
				h.mtx.Unlock()
			},
			OnDisconnect: func(p *Peer) {
				close(h.disconnected)
			},
		},
	}
	if inbound {
		h.peer = NewInboundPeer(cfg, local)
	} else {
		h.peer = NewOutboundPeer(cfg, local, "10.0.0.9:8118")
	}
	h.peer.Start()
	t.Cleanup(func() {
		h.peer.Disconnect()
		remote.Close()
	})
	return h
}

func (h *pipeHarness) receivedCount() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	return len(h.received)
}

// TestPeerReceivesRelayTx ensures relaytx frames written by the remote side
// are decoded and handed to the listener in order.
func TestPeerReceivesRelayTx(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, true)
	for i := uint32(0); i < 3; i++ {
		msg := relaywire.NewMsgRelayTx(testTx(i), uint64(100+i))
		require.NoError(t, relaywire.WriteMessage(h.remote, msg,
			relaywire.ProtocolVersion, relaywire.TestNet))
	}

	require.Eventually(t, func() bool {
		return h.receivedCount() == 3
	}, time.Second, 10*time.Millisecond)

	h.mtx.Lock()
	for i, msg := range h.received {
		require.Equal(t, testTx(uint32(i)).TxHash(), msg.Tx.TxHash())
		require.Equal(t, uint64(100+i), msg.Cycles)
	}
	h.mtx.Unlock()
	require.NotZero(t, h.peer.BytesReceived())
}

// TestPeerQueueFrame ensures queued frames are written to the connection.
func TestPeerQueueFrame(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, false)
	require.Equal(t, "10.0.0.9", h.peer.Host())
	require.Equal(t, "10.0.0.9:8118 (outbound)", h.peer.String())

	msg := relaywire.NewMsgRelayTx(testTx(7), 55)
	require.NoError(t, h.peer.QueueMessage(msg))

	got, _, err := relaywire.ReadMessage(h.remote, relaywire.ProtocolVersion,
		relaywire.TestNet)
	require.NoError(t, err)
	require.Equal(t, msg.Tx.TxHash(), got.(*relaywire.MsgRelayTx).Tx.TxHash())

	require.Eventually(t, func() bool {
		return h.peer.BytesSent() > 0
	}, time.Second, 10*time.Millisecond)
}

// TestPeerQueueFrameFull ensures queueing never blocks when the remote side
// stops reading.
func TestPeerQueueFrameFull(t *testing.T) {
	t.Parallel()

	local, remote := net.Pipe()
	defer remote.Close()
	p := NewOutboundPeer(&Config{
		Net:           relaywire.TestNet,
		SendQueueSize: 2,
	}, local, "10.0.0.1:8118")
	p.Start()
	defer p.Disconnect()

	frame, err := relaywire.EncodeMessage(relaywire.NewMsgRelayTx(testTx(1), 1),
		relaywire.ProtocolVersion, relaywire.TestNet)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.QueueFrame(frame)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("QueueFrame blocked")
	}
	require.NotZero(t, p.FramesDropped())
}

// TestPeerDisconnect ensures a forced disconnect stops both goroutines,
// closes the connection and invokes the disconnect listener once.
func TestPeerDisconnect(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, true)
	require.True(t, h.peer.Connected())

	h.peer.Disconnect()
	h.peer.Disconnect()
	h.peer.WaitForDisconnect()
	require.False(t, h.peer.Connected())

	select {
	case <-h.disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect listener not invoked")
	}

	// Frames queued after the disconnect are ignored.
	h.peer.QueueFrame([]byte{0x01})
}

// TestPeerRemoteClose ensures the peer disconnects when the remote side goes
// away.
func TestPeerRemoteClose(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, true)
	require.NoError(t, h.remote.Close())

	select {
	case <-h.disconnected:
	case <-time.After(time.Second):
		t.Fatal("peer did not disconnect")
	}
	require.False(t, h.peer.Connected())
}

// TestPeerWrongNetwork ensures a frame for another network disconnects the
// peer.
func TestPeerWrongNetwork(t *testing.T) {
	t.Parallel()

	h := newPipeHarness(t, true)
	msg := relaywire.NewMsgRelayTx(testTx(1), 1)
	go relaywire.WriteMessage(h.remote, msg, relaywire.ProtocolVersion,
		relaywire.MainNet)

	select {
	case <-h.disconnected:
	case <-time.After(time.Second):
		t.Fatal("peer did not disconnect")
	}
	require.Zero(t, h.receivedCount())
}

// TestPeerIDs ensures every peer gets a distinct id.
func TestPeerIDs(t *testing.T) {
	t.Parallel()

	h1 := newPipeHarness(t, true)
	h2 := newPipeHarness(t, true)
	require.NotEqual(t, h1.peer.ID(), h2.peer.ID())
	require.True(t, h1.peer.Inbound())
}
