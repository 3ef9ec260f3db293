// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"bytes"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/txrelay/mempool"
	"github.com/btcsuite/txrelay/relaywire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeConnManager records the frames and bans issued by the relayer.
type fakeConnManager struct {
	mtx   sync.Mutex
	peers []PeerID
	sent  map[PeerID][][]byte
	bans  map[PeerID]time.Duration
}

func newFakeConnManager(numPeers int) *fakeConnManager {
	cm := &fakeConnManager{
		sent: make(map[PeerID][][]byte),
		bans: make(map[PeerID]time.Duration),
	}
	for i := 0; i < numPeers; i++ {
		cm.peers = append(cm.peers, PeerID(i))
	}
	return cm
}

func (cm *fakeConnManager) ConnectedPeers() []PeerID {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	return append([]PeerID(nil), cm.peers...)
}

func (cm *fakeConnManager) SendMessage(peer PeerID, frame []byte) {
	cm.mtx.Lock()
	cm.sent[peer] = append(cm.sent[peer], frame)
	cm.mtx.Unlock()
}

func (cm *fakeConnManager) BanPeer(peer PeerID, duration time.Duration) {
	cm.mtx.Lock()
	cm.bans[peer] = duration
	cm.mtx.Unlock()
}

// recipients returns the sorted ids of the peers that were sent a frame.
func (cm *fakeConnManager) recipients() []PeerID {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	peers := make([]PeerID, 0, len(cm.sent))
	for peer := range cm.sent {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

func (cm *fakeConnManager) banned(peer PeerID) (time.Duration, bool) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	d, ok := cm.bans[peer]
	return d, ok
}

// recordingAlerter keeps every alert it receives.
type recordingAlerter struct {
	mtx    sync.Mutex
	alerts []*InvalidTxAlert
}

func (a *recordingAlerter) Alert(alert *InvalidTxAlert) {
	a.mtx.Lock()
	a.alerts = append(a.alerts, alert)
	a.mtx.Unlock()
}

func (a *recordingAlerter) count() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return len(a.alerts)
}

// relayHarness bundles a relayer with its fake collaborators.
type relayHarness struct {
	relayer *Relayer
	pool    *mempool.MockTxMempool
	conns   *fakeConnManager
	alerter *recordingAlerter
}

func newRelayHarness(t *testing.T, numPeers int, maxRelayPeers int) *relayHarness {
	t.Helper()

	h := &relayHarness{
		pool:    &mempool.MockTxMempool{},
		conns:   newFakeConnManager(numPeers),
		alerter: &recordingAlerter{},
	}
	relayer, err := New(&Config{
		TxPool:        h.pool,
		ConnManager:   h.conns,
		Alerter:       h.alerter,
		Net:           relaywire.TestNet,
		MaxRelayPeers: maxRelayPeers,
		Registerer:    prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	h.relayer = relayer
	return h
}

// testTx returns a transaction whose hash is unique for every seed.
func testTx(seed uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x11},
			Index: seed,
		},
		Sequence: wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x51}})
	return tx
}

// TestHandleRelayTxBroadcast ensures an accepted transaction with matching
// cycles is relayed to every other peer and that every recipient gets the
// same frame.
func TestHandleRelayTxBroadcast(t *testing.T) {
	t.Parallel()

	h := newRelayHarness(t, 10, DefaultMaxRelayPeers)
	h.pool.On("ProcessTransaction", mock.Anything).
		Return(mempool.Cycles(500), nil).Once()

	msg := relaywire.NewMsgRelayTx(testTx(1), 500)
	outcome := h.relayer.HandleRelayTx(3, msg)
	require.Equal(t, Broadcast, outcome)
	h.pool.AssertExpectations(t)

	recipients := h.conns.recipients()
	require.Len(t, recipients, 9)
	require.NotContains(t, recipients, PeerID(3))

	want, err := relaywire.EncodeMessage(msg, relaywire.ProtocolVersion,
		relaywire.TestNet)
	require.NoError(t, err)
	for _, peer := range recipients {
		frames := h.conns.sent[peer]
		require.Len(t, frames, 1)
		require.True(t, bytes.Equal(want, frames[0]))
	}

	_, banned := h.conns.banned(3)
	require.False(t, banned)
	require.Zero(t, h.alerter.count())

	require.Equal(t, 1.0, testutil.ToFloat64(
		h.relayer.metrics.outcomes.WithLabelValues("broadcast")))
}

// TestHandleRelayTxFanoutCap ensures no more than MaxRelayPeers peers receive
// a transaction.
func TestHandleRelayTxFanoutCap(t *testing.T) {
	t.Parallel()

	h := newRelayHarness(t, 20, 4)
	h.pool.On("ProcessTransaction", mock.Anything).
		Return(mempool.Cycles(77), nil)

	outcome := h.relayer.HandleRelayTx(0, relaywire.NewMsgRelayTx(testTx(2), 77))
	require.Equal(t, Broadcast, outcome)
	require.Equal(t, []PeerID{1, 2, 3, 4}, h.conns.recipients())
}

// TestHandleRelayTxDuplicate ensures a transaction relayed twice reaches the
// pool only once and is only broadcast once.
func TestHandleRelayTxDuplicate(t *testing.T) {
	t.Parallel()

	h := newRelayHarness(t, 5, DefaultMaxRelayPeers)
	h.pool.On("ProcessTransaction", mock.Anything).
		Return(mempool.Cycles(500), nil)

	msg := relaywire.NewMsgRelayTx(testTx(3), 500)
	require.Equal(t, Broadcast, h.relayer.HandleRelayTx(0, msg))
	require.Equal(t, Duplicate, h.relayer.HandleRelayTx(0, msg))
	require.Equal(t, Duplicate, h.relayer.HandleRelayTx(2, msg))

	h.pool.AssertNumberOfCalls(t, "ProcessTransaction", 1)
	for _, peer := range h.conns.recipients() {
		require.Len(t, h.conns.sent[peer], 1)
	}
	for peer := PeerID(0); peer < 5; peer++ {
		_, banned := h.conns.banned(peer)
		require.False(t, banned)
	}
}

// TestHandleRelayTxAlreadyKnown ensures a transaction already marked in the
// dedup filter never reaches the pool.
func TestHandleRelayTxAlreadyKnown(t *testing.T) {
	t.Parallel()

	h := newRelayHarness(t, 5, DefaultMaxRelayPeers)
	tx := testTx(4)
	require.False(t, h.relayer.txFilter.AlreadyKnown(tx.TxHash()))

	outcome := h.relayer.HandleRelayTx(1, relaywire.NewMsgRelayTx(tx, 500))
	require.Equal(t, Duplicate, outcome)
	h.pool.AssertNotCalled(t, "ProcessTransaction", mock.Anything)
	require.Empty(t, h.conns.recipients())
	_, banned := h.conns.banned(1)
	require.False(t, banned)
}

// TestHandleRelayTxWitnessStripped ensures a copy of a transaction relayed
// with its witness stripped neither shadows the intact transaction nor spares
// the peer relaying it.
func TestHandleRelayTxWitnessStripped(t *testing.T) {
	t.Parallel()

	h := newRelayHarness(t, 5, DefaultMaxRelayPeers)
	rejectErr := mempool.InvalidTxError{
		RejectCode:  wire.RejectInvalid,
		Description: "witness program hash mismatch",
	}
	h.pool.On("ProcessTransaction", mock.MatchedBy(func(tx *btcutil.Tx) bool {
		return !tx.HasWitness()
	})).Return(mempool.Cycles(0), rejectErr)
	h.pool.On("ProcessTransaction", mock.MatchedBy(func(tx *btcutil.Tx) bool {
		return tx.HasWitness()
	})).Return(mempool.Cycles(700), nil)

	witnessTx := testTx(7)
	witnessTx.TxIn[0].Witness = wire.TxWitness{{0x01, 0x02}, {0x03}}
	strippedTx := witnessTx.Copy()
	strippedTx.TxIn[0].Witness = nil
	require.Equal(t, witnessTx.TxHash(), strippedTx.TxHash())

	outcome := h.relayer.HandleRelayTx(1, relaywire.NewMsgRelayTx(strippedTx, 700))
	require.Equal(t, InvalidRejected, outcome)
	_, banned := h.conns.banned(1)
	require.True(t, banned)

	outcome = h.relayer.HandleRelayTx(2, relaywire.NewMsgRelayTx(witnessTx, 700))
	require.Equal(t, Broadcast, outcome)
	_, banned = h.conns.banned(2)
	require.False(t, banned)
	require.Equal(t, []PeerID{0, 1, 3, 4}, h.conns.recipients())

	// The intact transaction is now the one remembered.
	outcome = h.relayer.HandleRelayTx(3, relaywire.NewMsgRelayTx(witnessTx, 700))
	require.Equal(t, Duplicate, outcome)
	h.pool.AssertNumberOfCalls(t, "ProcessTransaction", 2)
}

// TestHandleRelayTxCostMismatch ensures a peer misstating the cycles of a
// transaction is banned and the transaction is not relayed.
func TestHandleRelayTxCostMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		computed mempool.Cycles
		claimed  uint64
	}{
		{computed: 500, claimed: 600},
		{computed: 1000, claimed: 999},
		{computed: 1, claimed: 0},
	}

	for i, test := range tests {
		h := newRelayHarness(t, 10, DefaultMaxRelayPeers)
		h.pool.On("ProcessTransaction", mock.Anything).
			Return(test.computed, nil)

		msg := relaywire.NewMsgRelayTx(testTx(uint32(100+i)), test.claimed)
		outcome := h.relayer.HandleRelayTx(7, msg)
		require.Equal(t, CostMismatch, outcome, "test #%d", i)
		require.True(t, outcome.BansPeer())

		duration, banned := h.conns.banned(7)
		require.True(t, banned, "test #%d", i)
		require.Equal(t, DefaultBanDuration, duration)
		require.Equal(t, 259200.0, duration.Seconds())
		require.Empty(t, h.conns.recipients(), "test #%d", i)
		require.Zero(t, h.alerter.count())
		require.Equal(t, 1.0, testutil.ToFloat64(h.relayer.metrics.bans))
	}
}

// TestHandleRelayTxInvalid ensures a peer relaying an invalid transaction is
// banned and an alert is raised.
func TestHandleRelayTxInvalid(t *testing.T) {
	t.Parallel()

	h := newRelayHarness(t, 10, DefaultMaxRelayPeers)
	rejectErr := mempool.InvalidTxError{
		RejectCode:  wire.RejectInvalid,
		Description: "signature not empty on failed checksig",
	}
	h.pool.On("ProcessTransaction", mock.Anything).
		Return(mempool.Cycles(0), rejectErr)

	tx := testTx(5)
	outcome := h.relayer.HandleRelayTx(4, relaywire.NewMsgRelayTx(tx, 500))
	require.Equal(t, InvalidRejected, outcome)

	duration, banned := h.conns.banned(4)
	require.True(t, banned)
	require.Equal(t, DefaultBanDuration, duration)
	require.Empty(t, h.conns.recipients())

	require.Equal(t, 1, h.alerter.count())
	alert := h.alerter.alerts[0]
	require.Equal(t, PeerID(4), alert.Peer)
	require.Equal(t, DefaultBanDuration, alert.BanDuration)
	require.Equal(t, tx.TxHash(), alert.TxHash)
	require.ErrorIs(t, alert.Err, rejectErr)
	require.Contains(t, alert.String(), "259200 seconds")
}

// TestHandleRelayTxTransient ensures transient pool rejections and errors the
// pool could not classify never ban the peer.
func TestHandleRelayTxTransient(t *testing.T) {
	t.Parallel()

	rejections := []error{
		mempool.TransientTxError{
			RejectCode:  wire.RejectInvalid,
			Description: "output does not exist",
		},
		mempool.TransientTxError{
			RejectCode:  wire.RejectDuplicate,
			Description: "output already spent in the memory pool",
		},
		errors.New("fetch utxo: leveldb: closed"),
	}

	for i, rejectErr := range rejections {
		h := newRelayHarness(t, 10, DefaultMaxRelayPeers)
		h.pool.On("ProcessTransaction", mock.Anything).
			Return(mempool.Cycles(0), rejectErr)

		msg := relaywire.NewMsgRelayTx(testTx(uint32(200+i)), 500)
		outcome := h.relayer.HandleRelayTx(2, msg)
		require.Equal(t, TransientRejected, outcome, "test #%d", i)
		require.False(t, outcome.BansPeer())

		_, banned := h.conns.banned(2)
		require.False(t, banned, "test #%d", i)
		require.Empty(t, h.conns.recipients())
		require.Zero(t, h.alerter.count())
	}
}

// TestPeerDisconnected ensures a disconnected peer's knowledge is dropped.
func TestPeerDisconnected(t *testing.T) {
	t.Parallel()

	h := newRelayHarness(t, 3, DefaultMaxRelayPeers)
	h.pool.On("ProcessTransaction", mock.Anything).
		Return(mempool.Cycles(10), nil)

	h.relayer.HandleRelayTx(0, relaywire.NewMsgRelayTx(testTx(6), 10))
	require.Equal(t, 3, h.relayer.knownTxs.Count())

	h.relayer.PeerDisconnected(1)
	require.Equal(t, 2, h.relayer.knownTxs.Count())
	require.True(t, h.relayer.knownTxs.MarkAndCheck(1, testTx(6).TxHash()))
	require.Equal(t, 2, h.relayer.knownTxs.Count())
}

// TestPeerDisconnectedDuringProcessing ensures origins that disconnect while
// their transaction is in the pool are not tracked once it is relayed.
func TestPeerDisconnectedDuringProcessing(t *testing.T) {
	t.Parallel()

	const numPeers = 4
	const numOrigins = 50
	h := newRelayHarness(t, numPeers, DefaultMaxRelayPeers)

	for i := 0; i < numOrigins; i++ {
		origin := PeerID(100 + i)
		h.pool.On("ProcessTransaction", mock.Anything).
			Return(mempool.Cycles(10), nil).
			Run(func(mock.Arguments) {
				h.relayer.PeerDisconnected(origin)
			}).Once()

		msg := relaywire.NewMsgRelayTx(testTx(uint32(100+i)), 10)
		require.Equal(t, Broadcast, h.relayer.HandleRelayTx(origin, msg))
	}

	require.Equal(t, numPeers, h.relayer.knownTxs.Count())
	require.Equal(t, []PeerID{0, 1, 2, 3}, h.conns.recipients())
	h.pool.AssertExpectations(t)
}

// TestNewConfig ensures missing collaborators are rejected and zero values
// select the defaults.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{ConnManager: newFakeConnManager(0)})
	require.Error(t, err)
	_, err = New(&Config{TxPool: &mempool.MockTxMempool{}})
	require.Error(t, err)

	r, err := New(&Config{
		TxPool:      &mempool.MockTxMempool{},
		ConnManager: newFakeConnManager(0),
	})
	require.NoError(t, err)
	require.Equal(t, DefaultMaxRelayPeers, r.cfg.MaxRelayPeers)
	require.Equal(t, DefaultBanDuration, r.cfg.BanDuration)
	require.Equal(t, uint(DefaultTxFilterSize), r.cfg.TxFilterSize)
	require.Equal(t, uint(DefaultKnownTxsPerPeer), r.cfg.KnownTxsPerPeer)
	require.IsType(t, logAlerter{}, r.cfg.Alerter)

	// Registering the same collectors twice fails.
	reg := prometheus.NewRegistry()
	_, err = New(&Config{
		TxPool:      &mempool.MockTxMempool{},
		ConnManager: newFakeConnManager(0),
		Registerer:  reg,
	})
	require.NoError(t, err)
	_, err = New(&Config{
		TxPool:      &mempool.MockTxMempool{},
		ConnManager: newFakeConnManager(0),
		Registerer:  reg,
	})
	require.Error(t, err)
}

// TestOutcomeStringer tests the stringized output for outcomes.
func TestOutcomeStringer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   Outcome
		want string
	}{
		{Duplicate, "duplicate"},
		{Broadcast, "broadcast"},
		{CostMismatch, "cost_mismatch"},
		{InvalidRejected, "invalid"},
		{TransientRejected, "transient"},
		{0xff, "Unknown Outcome (255)"},
	}
	for _, test := range tests {
		require.Equal(t, test.want, test.in.String())
	}
}
