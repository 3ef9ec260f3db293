// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relaywire

import (
	"fmt"
)

// ProtocolVersion is the latest protocol version this package supports.
const ProtocolVersion uint32 = 1

// RelayNet represents which network a frame belongs to.
type RelayNet uint32

// Constants used to indicate the message network.  They can also be used to
// seek to the next message when a stream's state is unknown.
const (
	// MainNet represents the main relay network.
	MainNet RelayNet = 0x52e1a7c3

	// TestNet represents the test relay network.
	TestNet RelayNet = 0x0b7e1d5a
)

// rnStrings is a map of relay networks back to their constant names for
// pretty printing.
var rnStrings = map[RelayNet]string{
	MainNet: "MainNet",
	TestNet: "TestNet",
}

// String returns the RelayNet in human-readable form.
func (n RelayNet) String() string {
	if s, ok := rnStrings[n]; ok {
		return s
	}

	return fmt.Sprintf("Unknown RelayNet (%d)", uint32(n))
}
