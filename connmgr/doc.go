// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package connmgr implements a generic relay network connection manager.

Connection Manager Overview

Connection Manager handles the connection concerns that are independent of the
relay protocol: accepting inbound connections on the configured listeners and
maintaining connections to the configured persistent peers, retrying with a
growing back off whenever dialing fails or an established connection is lost.

Banning, peer limits and message handling are left to the caller, which is
notified of every new connection through callbacks.
*/
package connmgr
