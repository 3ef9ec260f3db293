// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/txrelay/relaywire"
	"github.com/davecgh/go-spew/spew"
)

const (
	// DefaultSendQueueSize is the default number of frames that may wait
	// to be written to a peer before new frames are dropped.
	DefaultSendQueueSize = 1000

	// idleTimeout is the duration of inactivity before we time out a peer.
	idleTimeout = 5 * time.Minute
)

var (
	// nodeCount is the total number of peer connections made since
	// startup and is used to assign an id to a peer.
	nodeCount int32
)

// MessageListeners defines callback function pointers to invoke with message
// listeners for a peer.  Any listener which is not set to a concrete callback
// during peer initialization is ignored.  Execution of multiple message
// listeners occurs serially, so one callback blocks the execution of the next.
//
// NOTE: Unless otherwise documented, these listeners must NOT directly call any
// blocking calls (such as WaitForDisconnect) on the peer instance since the
// input handler goroutine blocks until the callback has completed.  Doing so
// will result in a deadlock.
type MessageListeners struct {
	// OnRelayTx is invoked when a peer receives a relaytx message.
	OnRelayTx func(p *Peer, msg *relaywire.MsgRelayTx)

	// OnRead is invoked when a peer receives a message.  It consists
	// of the number of bytes read, the message, and whether or not an
	// error in the read occurred.  Typically, callers will opt to use the
	// callbacks for the specific message types, however this can be useful
	// for circumstances such as keeping track of server-wide byte counts.
	OnRead func(p *Peer, bytesRead int, msg relaywire.Message, err error)

	// OnWrite is invoked when we write a frame to a peer.  It consists of
	// the number of bytes written and whether or not an error in the write
	// occurred.
	OnWrite func(p *Peer, bytesWritten int, err error)

	// OnDisconnect is invoked once the peer has fully disconnected.
	OnDisconnect func(p *Peer)
}

// Config is the struct to hold configuration options useful to Peer.
type Config struct {
	// Net identifies the network frames are read and written for.
	Net relaywire.RelayNet

	// ProtocolVersion specifies the protocol version frames are decoded
	// with.  The latest version is used when zero.
	ProtocolVersion uint32

	// SendQueueSize is the number of frames that may wait to be written.
	// DefaultSendQueueSize is used when zero.
	SendQueueSize int

	// IdleTimeout is the duration of inactivity before a peer is
	// disconnected.  Five minutes are used when zero.
	IdleTimeout time.Duration

	// Listeners houses callback functions to be invoked on receiving peer
	// messages.
	Listeners MessageListeners
}

// Peer provides a basic concurrent safe relay peer for handling relay
// communications via the relay wire protocol.
//
// Frames queued with QueueFrame are written in order by a dedicated goroutine.
// Received relaytx messages are handed to the OnRelayTx listener.
type Peer struct {
	// The following variables must only be used atomically.
	bytesReceived uint64
	bytesSent     uint64
	framesDropped uint64

	conn    net.Conn
	id      int32
	addr    string
	inbound bool
	cfg     Config

	timeConnected time.Time

	sendQueue      chan []byte
	disconnect     chan struct{}
	disconnectOnce sync.Once
	startOnce      sync.Once
	wg             sync.WaitGroup
}

// String returns the peer's address and directionality as a human-readable
// string.
//
// This function is safe for concurrent access.
func (p *Peer) String() string {
	return fmt.Sprintf("%s (%s)", p.addr, directionString(p.inbound))
}

// ID returns the peer id.
//
// This function is safe for concurrent access.
func (p *Peer) ID() int32 {
	return p.id
}

// Addr returns the peer address.
//
// This function is safe for concurrent access.
func (p *Peer) Addr() string {
	return p.addr
}

// Host returns the host part of the peer address, or the whole address when
// it has no port.
//
// This function is safe for concurrent access.
func (p *Peer) Host() string {
	host, _, err := net.SplitHostPort(p.addr)
	if err != nil {
		return p.addr
	}
	return host
}

// Inbound returns whether the peer is inbound.
//
// This function is safe for concurrent access.
func (p *Peer) Inbound() bool {
	return p.inbound
}

// BytesSent returns the total number of bytes sent by the peer.
//
// This function is safe for concurrent access.
func (p *Peer) BytesSent() uint64 {
	return atomic.LoadUint64(&p.bytesSent)
}

// BytesReceived returns the total number of bytes received by the peer.
//
// This function is safe for concurrent access.
func (p *Peer) BytesReceived() uint64 {
	return atomic.LoadUint64(&p.bytesReceived)
}

// FramesDropped returns the number of frames dropped because the send queue
// was full.
//
// This function is safe for concurrent access.
func (p *Peer) FramesDropped() uint64 {
	return atomic.LoadUint64(&p.framesDropped)
}

// TimeConnected returns the time at which the peer connected.
//
// This function is safe for concurrent access.
func (p *Peer) TimeConnected() time.Time {
	return p.timeConnected
}

// readMessage reads the next relay message from the peer with logging.
func (p *Peer) readMessage() (relaywire.Message, []byte, error) {
	timeout := p.cfg.IdleTimeout
	if timeout == 0 {
		timeout = idleTimeout
	}
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}

	n, msg, buf, err := relaywire.ReadMessageN(p.conn, p.cfg.ProtocolVersion,
		p.cfg.Net)
	atomic.AddUint64(&p.bytesReceived, uint64(n))
	if p.cfg.Listeners.OnRead != nil {
		p.cfg.Listeners.OnRead(p, n, msg, err)
	}
	if err != nil {
		return nil, nil, err
	}

	// Use closures to log expensive operations so they are only run when
	// the logging level requires it.
	log.Debugf("%v", newLogClosure(func() string {
		return fmt.Sprintf("Received %v from %s", msg.Command(), p)
	}))
	log.Tracef("%v", newLogClosure(func() string {
		return spew.Sdump(msg)
	}))
	log.Tracef("%v", newLogClosure(func() string {
		return spew.Sdump(buf)
	}))

	return msg, buf, nil
}

// shouldHandleReadError returns whether or not the passed error, which is
// expected to have come from reading from the remote peer in the inHandler,
// should be logged and responded to.
func (p *Peer) shouldHandleReadError(err error) bool {
	// No logging or reject message when the peer is being forcibly
	// disconnected.
	if !p.Connected() {
		return false
	}

	// No logging or reject message when the remote peer has been
	// disconnected.
	if err == io.EOF || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) {

		return false
	}

	return true
}

// readHandler handles all incoming messages for the peer.  It must be run as a
// goroutine.
func (p *Peer) readHandler() {
	defer p.wg.Done()

out:
	for {
		msg, _, err := p.readMessage()
		if err != nil {
			// Frames with an unknown command are skipped so newer
			// peers can introduce messages.
			if errors.Is(err, relaywire.ErrUnknownMessage) {
				log.Debugf("Received unknown message from %s", p)
				continue
			}

			if p.shouldHandleReadError(err) {
				log.Errorf("Can't read message from %s: %v", p, err)
			}
			break out
		}

		switch msg := msg.(type) {
		case *relaywire.MsgRelayTx:
			if p.cfg.Listeners.OnRelayTx != nil {
				p.cfg.Listeners.OnRelayTx(p, msg)
			}

		default:
			log.Debugf("Received unhandled message of type %v "+
				"from %v", msg.Command(), p)
		}
	}

	// Ensure connection is closed.
	p.Disconnect()

	log.Tracef("Peer input handler done for %s", p)
}

// writeHandler writes queued frames to the connection in order.  It must be
// run as a goroutine.
func (p *Peer) writeHandler() {
	defer p.wg.Done()

	for {
		select {
		case <-p.disconnect:
			log.Tracef("Peer output handler done for %s", p)
			return

		case frame := <-p.sendQueue:
			log.Tracef("%v", newLogClosure(func() string {
				return fmt.Sprintf("Sending %d byte frame to "+
					"%s:\n%s", len(frame), p, spew.Sdump(frame))
			}))

			n, err := p.conn.Write(frame)
			atomic.AddUint64(&p.bytesSent, uint64(n))
			if p.cfg.Listeners.OnWrite != nil {
				p.cfg.Listeners.OnWrite(p, n, err)
			}
			if err != nil {
				if p.Connected() {
					log.Errorf("Failed to send frame to "+
						"%s: %v", p, err)
				}
				p.Disconnect()
				return
			}
		}
	}
}

// QueueFrame queues an encoded frame for delivery to the peer.  It never
// blocks: when the send queue is full or the peer is disconnected the frame is
// dropped.  The frame must not be modified afterwards.
//
// This function is safe for concurrent access.
func (p *Peer) QueueFrame(frame []byte) {
	if !p.Connected() {
		return
	}

	select {
	case p.sendQueue <- frame:
	default:
		atomic.AddUint64(&p.framesDropped, 1)
		log.Debugf("Send queue for %s is full, dropping %d byte frame",
			p, len(frame))
	}
}

// QueueMessage encodes msg and queues it for delivery to the peer.
//
// This function is safe for concurrent access.
func (p *Peer) QueueMessage(msg relaywire.Message) error {
	frame, err := relaywire.EncodeMessage(msg, p.cfg.ProtocolVersion,
		p.cfg.Net)
	if err != nil {
		return err
	}
	p.QueueFrame(frame)
	return nil
}

// Connected returns whether or not the peer is currently connected.
//
// This function is safe for concurrent access.
func (p *Peer) Connected() bool {
	select {
	case <-p.disconnect:
		return false
	default:
		return true
	}
}

// Disconnect disconnects the peer by closing the connection.  Calling this
// function when the peer is already disconnected or in the process of
// disconnecting will have no effect.
func (p *Peer) Disconnect() {
	p.disconnectOnce.Do(func() {
		log.Tracef("Disconnecting %s", p)
		close(p.disconnect)
		if err := p.conn.Close(); err != nil {
			log.Debugf("Error closing connection to %s: %v", p, err)
		}
	})
}

// WaitForDisconnect waits until the peer has completely disconnected and all
// resources are cleaned up.  This will happen if either the local or remote
// side has been disconnected or the peer is forcibly disconnected via
// Disconnect.
func (p *Peer) WaitForDisconnect() {
	p.wg.Wait()
}

// Start launches the read and write goroutines and the cleanup that runs once
// both are done.  No listener fires before Start.  Calling it again has no
// effect.
func (p *Peer) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(2)
		go p.readHandler()
		go p.writeHandler()

		go func() {
			p.wg.Wait()
			if p.cfg.Listeners.OnDisconnect != nil {
				p.cfg.Listeners.OnDisconnect(p)
			}
		}()
	})
}

// newPeer returns a new peer for conn with the next id.
func newPeer(cfg *Config, conn net.Conn, addr string, inbound bool) *Peer {
	c := *cfg // Copy so caller can't mutate.
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = relaywire.ProtocolVersion
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}

	return &Peer{
		conn:          conn,
		id:            atomic.AddInt32(&nodeCount, 1),
		addr:          addr,
		inbound:       inbound,
		cfg:           c,
		timeConnected: time.Now(),
		sendQueue:     make(chan []byte, c.SendQueueSize),
		disconnect:    make(chan struct{}),
	}
}

// NewInboundPeer returns a new inbound relay peer for the accepted connection.
// The peer does not read or write until Start is called.
func NewInboundPeer(cfg *Config, conn net.Conn) *Peer {
	return newPeer(cfg, conn, conn.RemoteAddr().String(), true)
}

// NewOutboundPeer returns a new outbound relay peer for a connection
// established to addr.  The peer does not read or write until Start is called.
func NewOutboundPeer(cfg *Config, conn net.Conn, addr string) *Peer {
	return newPeer(cfg, conn, addr, false)
}

// directionString is a helper function that returns a string that represents
// the direction of a connection (inbound or outbound).
func directionString(inbound bool) string {
	if inbound {
		return "inbound"
	}
	return "outbound"
}
