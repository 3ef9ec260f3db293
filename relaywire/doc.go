// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package relaywire implements the frame codec used to gossip transactions
between relay nodes.

Every frame is a 24 byte header followed by a payload:

	network magic  4 bytes, little endian
	command       12 bytes, zero padded ASCII
	payload length 4 bytes, little endian
	checksum       4 bytes, first four bytes of double SHA-256 of the payload

The only payload defined today is relaytx, which carries the cycle cost the
sender computed for a transaction followed by the transaction in its standard
serialization.  Encoding the same message twice yields identical bytes, so a
broadcaster can encode once and hand the same slice to every recipient.

Errors

Malformed frames are reported as *MessageError.  Frames for another network,
frames with an unknown command and frames whose declared length exceeds the
limit for their command are rejected after their payload is drained so the
stream stays aligned on frame boundaries.
*/
package relaywire
