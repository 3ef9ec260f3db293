// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/go-socks/socks"

	"github.com/btcsuite/txrelay/banman"
	"github.com/btcsuite/txrelay/connmgr"
	"github.com/btcsuite/txrelay/internal/log"
	"github.com/btcsuite/txrelay/peer"
	"github.com/btcsuite/txrelay/relay"
	"github.com/btcsuite/txrelay/relaywire"
)

const (
	// connectionRetryInterval is the amount of time to wait in between
	// retries when connecting to persistent peers.
	connectionRetryInterval = time.Second * 10

	// dialTimeout bounds outbound connection attempts.
	dialTimeout = time.Second * 30
)

var srvrLog = log.SrvrLog

// dialFunc establishes an outbound connection.
type dialFunc func(network, addr string) (net.Conn, error)

// banPeerMsg asks the peer handler to disconnect every peer from a host that
// was just banned.
type banPeerMsg struct {
	host string
}

// sendFrameMsg asks the peer handler to queue an encoded frame for a
// connected peer.
type sendFrameMsg struct {
	id    relay.PeerID
	frame []byte
}

type getConnCountMsg struct {
	reply chan int32
}

type getPeerIDsMsg struct {
	reply chan []relay.PeerID
}

// peerState maintains state of inbound and outbound peers.
type peerState struct {
	inboundPeers  map[relay.PeerID]*peer.Peer
	outboundPeers map[relay.PeerID]*peer.Peer
}

// Count returns the count of all known peers.
func (ps *peerState) Count() int {
	return len(ps.inboundPeers) + len(ps.outboundPeers)
}

// lookup returns the connected peer with the passed id.
func (ps *peerState) lookup(id relay.PeerID) (*peer.Peer, bool) {
	if p, ok := ps.inboundPeers[id]; ok {
		return p, true
	}
	p, ok := ps.outboundPeers[id]
	return p, ok
}

// forAllPeers is a helper function that runs closure on all peers known to
// peerState.
func (ps *peerState) forAllPeers(closure func(p *peer.Peer)) {
	for _, e := range ps.inboundPeers {
		closure(e)
	}
	for _, e := range ps.outboundPeers {
		closure(e)
	}
}

// server provides a relay server for handling communications to and from
// relay peers.  It is the connection manager of the relayer.
type server struct {
	started  int32 // atomic
	shutdown int32 // atomic

	cfg         *config
	relayer     *relay.Relayer
	banMgr      *banman.BanManager
	peerCfg     peer.Config
	listeners   []net.Listener
	connManager *connmgr.ConnManager

	// peerHosts maps the id of every started peer to its host until the
	// peer is fully disconnected, so a ban always resolves its host.
	hostsMtx  sync.Mutex
	peerHosts map[relay.PeerID]string

	newPeers   chan *peer.Peer
	donePeers  chan *peer.Peer
	banPeers   chan banPeerMsg
	sendFrames chan sendFrameMsg
	query      chan interface{}
	wg         sync.WaitGroup
	quit       chan struct{}
}

// Ensure the server implements the relay.ConnManager interface.
var _ relay.ConnManager = (*server)(nil)

// handleAddPeerMsg deals with adding new peers.  It is invoked from the
// peerHandler goroutine.
func (s *server) handleAddPeerMsg(state *peerState, p *peer.Peer) bool {
	if p == nil {
		return false
	}

	// Ignore new peers if we're shutting down.
	if atomic.LoadInt32(&s.shutdown) != 0 {
		srvrLog.Infof("New peer %s ignored - server is shutting down", p)
		p.Disconnect()
		return false
	}

	// Disconnect banned peers.
	if banned, banEnd := s.banMgr.IsBanned(p.Host()); banned {
		srvrLog.Debugf("Peer %s is banned for another %v - disconnecting",
			p.Host(), time.Until(banEnd).Round(time.Second))
		p.Disconnect()
		return false
	}

	// Limit max number of total peers.
	if state.Count() >= s.cfg.MaxPeers {
		srvrLog.Infof("Max peers reached [%d] - disconnecting peer %s",
			s.cfg.MaxPeers, p)
		p.Disconnect()
		return false
	}

	// Add the new peer.
	srvrLog.Debugf("New peer %s", p)
	id := relay.PeerID(p.ID())
	if p.Inbound() {
		state.inboundPeers[id] = p
	} else {
		state.outboundPeers[id] = p
	}

	return true
}

// handleDonePeerMsg deals with peers that have signalled they are done.  It is
// invoked from the peerHandler goroutine.
func (s *server) handleDonePeerMsg(state *peerState, p *peer.Peer) {
	list := state.outboundPeers
	if p.Inbound() {
		list = state.inboundPeers
	}
	id := relay.PeerID(p.ID())
	if _, ok := list[id]; ok {
		delete(list, id)
		srvrLog.Debugf("Removed peer %s", p)
		return
	}

	// If we get here it means that either we didn't know about the peer
	// or we purposefully deleted it.
}

// handleBanPeerMsg disconnects every connected peer from a banned host.
// Peers from the host that are not registered yet are refused by
// handleAddPeerMsg.  It is invoked from the peerHandler goroutine.
func (s *server) handleBanPeerMsg(state *peerState, msg banPeerMsg) {
	state.forAllPeers(func(sp *peer.Peer) {
		if sp.Host() == msg.host {
			srvrLog.Debugf("Disconnecting banned peer %s", sp)
			sp.Disconnect()
		}
	})
}

// handleSendFrameMsg queues a frame for a connected peer.  Frames for peers
// that are gone are dropped.  It is invoked from the peerHandler goroutine.
func (s *server) handleSendFrameMsg(state *peerState, msg sendFrameMsg) {
	p, ok := state.lookup(msg.id)
	if !ok || !p.Connected() {
		return
	}
	p.QueueFrame(msg.frame)
}

// handleQuery is the central handler for all queries and commands from other
// goroutines related to peer state.
func (s *server) handleQuery(state *peerState, querymsg interface{}) {
	switch msg := querymsg.(type) {
	case getConnCountMsg:
		nconnected := int32(0)
		state.forAllPeers(func(p *peer.Peer) {
			if p.Connected() {
				nconnected++
			}
		})
		msg.reply <- nconnected

	case getPeerIDsMsg:
		ids := make([]relay.PeerID, 0, state.Count())
		state.forAllPeers(func(p *peer.Peer) {
			if p.Connected() {
				ids = append(ids, relay.PeerID(p.ID()))
			}
		})
		msg.reply <- ids
	}
}

// peerHandler is used to handle peer operations such as adding and removing
// peers to and from the server, banning peers, and queueing frames for peers.
// It must be run in a goroutine.
func (s *server) peerHandler() {
	srvrLog.Tracef("Starting peer handler")
	state := &peerState{
		inboundPeers:  make(map[relay.PeerID]*peer.Peer),
		outboundPeers: make(map[relay.PeerID]*peer.Peer),
	}

out:
	for {
		select {
		// New peers connected to the server.
		case p := <-s.newPeers:
			s.handleAddPeerMsg(state, p)

		// Disconnected peers.
		case p := <-s.donePeers:
			s.handleDonePeerMsg(state, p)

		// Peer to ban.
		case msg := <-s.banPeers:
			s.handleBanPeerMsg(state, msg)

		// Frame for a single peer.
		case msg := <-s.sendFrames:
			s.handleSendFrameMsg(state, msg)

		case qmsg := <-s.query:
			s.handleQuery(state, qmsg)

		// Shutdown the peer handler.
		case <-s.quit:
			// Shutdown peers.
			state.forAllPeers(func(p *peer.Peer) {
				srvrLog.Tracef("Shutdown peer %s", p)
				p.Disconnect()
			})
			break out
		}
	}

	s.wg.Done()
	srvrLog.Tracef("Peer handler done")
}

// startPeer records the host of p and starts it.  The host is recorded first
// so a ban issued while handling the first message can be resolved.
func (s *server) startPeer(p *peer.Peer) {
	s.hostsMtx.Lock()
	s.peerHosts[relay.PeerID(p.ID())] = p.Host()
	s.hostsMtx.Unlock()

	p.Start()
}

// peerHost returns the host of a started peer that has not fully
// disconnected yet.
func (s *server) peerHost(id relay.PeerID) (string, bool) {
	s.hostsMtx.Lock()
	defer s.hostsMtx.Unlock()

	host, ok := s.peerHosts[id]
	return host, ok
}

// addPeer starts p and hands it to the peer handler.
func (s *server) addPeer(p *peer.Peer) {
	s.startPeer(p)

	select {
	case s.newPeers <- p:
	case <-s.quit:
		p.Disconnect()
	}
}

// onDisconnect is invoked once a peer has fully disconnected.
func (s *server) onDisconnect(p *peer.Peer) {
	id := relay.PeerID(p.ID())
	s.relayer.PeerDisconnected(id)

	s.hostsMtx.Lock()
	delete(s.peerHosts, id)
	s.hostsMtx.Unlock()

	select {
	case s.donePeers <- p:
	case <-s.quit:
	}
}

// onRelayTx is invoked when a peer relays a transaction.
func (s *server) onRelayTx(p *peer.Peer, msg *relaywire.MsgRelayTx) {
	s.relayer.HandleRelayTx(relay.PeerID(p.ID()), msg)
}

// inboundPeerConnected is invoked by the connection manager when a new
// inbound connection is established.  Connections from banned hosts are closed
// before any message is read from them.
func (s *server) inboundPeerConnected(conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err == nil {
		if banned, _ := s.banMgr.IsBanned(host); banned {
			srvrLog.Debugf("Rejecting connection from banned host %s", host)
			conn.Close()
			return
		}
	}

	s.addPeer(peer.NewInboundPeer(&s.peerCfg, conn))
}

// outboundPeerConnected is invoked by the connection manager when a new
// outbound connection is established.  The connection manager is told once the
// peer is gone so the persistent peer is dialed again.
func (s *server) outboundPeerConnected(c *connmgr.ConnReq, conn net.Conn) {
	host, _, err := net.SplitHostPort(c.Addr)
	if err == nil {
		if banned, _ := s.banMgr.IsBanned(host); banned {
			srvrLog.Debugf("Not connecting to banned host %s", host)
			conn.Close()
			s.connManager.Disconnect(c.ID())
			return
		}
	}

	p := peer.NewOutboundPeer(&s.peerCfg, conn, c.Addr)
	s.addPeer(p)

	go func() {
		p.WaitForDisconnect()
		s.connManager.Disconnect(c.ID())
	}()
}

// ConnectedPeers returns the ids of all connected peers.  It is part of the
// relay.ConnManager interface.
func (s *server) ConnectedPeers() []relay.PeerID {
	replyChan := make(chan []relay.PeerID, 1)
	select {
	case s.query <- getPeerIDsMsg{reply: replyChan}:
		return <-replyChan
	case <-s.quit:
		return nil
	}
}

// SendMessage queues an encoded frame for the peer with the passed id.  It is
// part of the relay.ConnManager interface.
func (s *server) SendMessage(id relay.PeerID, frame []byte) {
	select {
	case s.sendFrames <- sendFrameMsg{id: id, frame: frame}:
	case <-s.quit:
	}
}

// BanPeer bans the host of the peer with the passed id and disconnects every
// peer from that host.  The ban is recorded before BanPeer returns, so it
// holds even when the peer has already closed its connection.  It is part of
// the relay.ConnManager interface.
func (s *server) BanPeer(id relay.PeerID, duration time.Duration) {
	host, ok := s.peerHost(id)
	if !ok {
		srvrLog.Debugf("Unable to ban unknown peer %d", id)
		return
	}

	banEnd, err := s.banMgr.BanHost(host, duration)
	if err != nil {
		// The ban still holds in memory until restart.
		srvrLog.Errorf("Unable to store ban of %s: %v", host, err)
	}
	srvrLog.Infof("Banned peer %d (%s) until %v", id, host,
		banEnd.Format(time.RFC3339))

	select {
	case s.banPeers <- banPeerMsg{host: host}:
	case <-s.quit:
	}
}

// ConnectedCount returns the number of currently connected peers.
func (s *server) ConnectedCount() int32 {
	replyChan := make(chan int32, 1)
	select {
	case s.query <- getConnCountMsg{reply: replyChan}:
		return <-replyChan
	case <-s.quit:
		return 0
	}
}

// Start begins accepting connections from peers.
func (s *server) Start() {
	// Already started?
	if atomic.AddInt32(&s.started, 1) != 1 {
		return
	}

	srvrLog.Trace("Starting server")

	// Start the peer handler which in turn receives the peers of the
	// connection manager.
	s.wg.Add(1)
	go s.peerHandler()

	s.connManager.Start()
	for _, addr := range s.cfg.ConnectPeers {
		go s.connManager.Connect(&connmgr.ConnReq{
			Addr:      addr,
			Permanent: true,
		})
	}
}

// Stop gracefully shuts down the server by stopping and disconnecting all
// peers and the main listener.
func (s *server) Stop() error {
	// Make sure this only happens once.
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		srvrLog.Infof("Server is already in the process of shutting down")
		return nil
	}

	srvrLog.Warnf("Server shutting down")

	// Stop the connection manager which also closes the listeners.
	s.connManager.Stop()

	// Signal the remaining goroutines to quit.
	close(s.quit)
	return nil
}

// WaitForShutdown blocks until the connection manager and peer handler are
// stopped.
func (s *server) WaitForShutdown() {
	s.connManager.Wait()
	s.wg.Wait()
}

// newDialer returns the function outbound connections are made with.
// Connections go through the SOCKS5 proxy when one is configured.
func newDialer(cfg *config) dialFunc {
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		return proxy.Dial
	}
	return func(network, addr string) (net.Conn, error) {
		return net.DialTimeout(network, addr, dialTimeout)
	}
}

// newServer returns a new txrelayd server listening on the configured
// addresses.  The relayer is built from relayCfg with the server as its
// connection manager.
func newServer(cfg *config, banMgr *banman.BanManager, relayCfg relay.Config) (*server, error) {
	listeners := make([]net.Listener, 0, len(cfg.Listeners))
	for _, addr := range cfg.Listeners {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			srvrLog.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	if len(cfg.Listeners) > 0 && len(listeners) == 0 {
		return nil, errors.New("no valid listen address")
	}

	s := &server{
		cfg:        cfg,
		banMgr:     banMgr,
		listeners:  listeners,
		newPeers:   make(chan *peer.Peer, cfg.MaxPeers),
		donePeers:  make(chan *peer.Peer, cfg.MaxPeers),
		peerHosts:  make(map[relay.PeerID]string),
		banPeers:   make(chan banPeerMsg, cfg.MaxPeers),
		sendFrames: make(chan sendFrameMsg, cfg.MaxRelayPeers),
		query:      make(chan interface{}),
		quit:       make(chan struct{}),
	}
	s.peerCfg = peer.Config{
		Net: cfg.relayNet,
		Listeners: peer.MessageListeners{
			OnRelayTx:    s.onRelayTx,
			OnDisconnect: s.onDisconnect,
		},
	}

	closeListeners := func() {
		for _, listener := range listeners {
			listener.Close()
		}
	}

	relayCfg.ConnManager = s
	relayCfg.Net = cfg.relayNet
	relayer, err := relay.New(&relayCfg)
	if err != nil {
		closeListeners()
		return nil, err
	}
	s.relayer = relayer

	cmgr, err := connmgr.New(&connmgr.Config{
		Listeners:     listeners,
		OnAccept:      s.inboundPeerConnected,
		RetryDuration: connectionRetryInterval,
		OnConnection:  s.outboundPeerConnected,
		Dial:          newDialer(cfg),
	})
	if err != nil {
		closeListeners()
		return nil, err
	}
	s.connManager = cmgr

	return s, nil
}
