// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import "fmt"

// Outcome is the terminal result of processing one relayed transaction.
type Outcome uint8

const (
	// Duplicate means the transaction was already handled and was
	// discarded without touching the pool.
	Duplicate Outcome = iota

	// Broadcast means the pool admitted the transaction with the claimed
	// cycles and it was relayed to other peers.
	Broadcast

	// CostMismatch means the pool admitted the transaction but the
	// claimed cycles were wrong.  The sender was banned and the
	// transaction was not relayed.
	CostMismatch

	// InvalidRejected means the pool rejected the transaction as invalid.
	// The sender was banned.
	InvalidRejected

	// TransientRejected means the pool could not admit the transaction
	// because of its current state.  Nothing else happened.
	TransientRejected

	numOutcomes
)

// outcomeStrings is a map of outcomes back to their names for pretty
// printing and metric labels.
var outcomeStrings = [numOutcomes]string{
	Duplicate:         "duplicate",
	Broadcast:         "broadcast",
	CostMismatch:      "cost_mismatch",
	InvalidRejected:   "invalid",
	TransientRejected: "transient",
}

// String returns the Outcome in human-readable form.
func (o Outcome) String() string {
	if o < numOutcomes {
		return outcomeStrings[o]
	}
	return fmt.Sprintf("Unknown Outcome (%d)", uint8(o))
}

// BansPeer returns whether the outcome bans the peer that relayed the
// transaction.
func (o Outcome) BansPeer() bool {
	return o == CostMismatch || o == InvalidRejected
}
