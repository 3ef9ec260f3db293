// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package peer manages a single connection to another relay node.

A peer reads frames from its connection on one goroutine and hands every
decoded relaytx message to the OnRelayTx listener on that same goroutine, so
messages from one connection are handled in order while different connections
proceed concurrently.

Outbound frames are queued without blocking the caller.  A separate goroutine
writes them to the connection in order.  When the queue is full new frames are
dropped since delivery of relayed transactions is best effort.

Inbound and outbound peers only differ in how the connection was established;
both start reading and writing as soon as they are created.

To extend the basic peer functionality provided by package peer, listeners can
be configured using callbacks in the peer configuration.
*/
package peer
