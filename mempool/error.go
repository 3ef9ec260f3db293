// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/wire"
)

// RejectError identifies a transaction the pool refused to admit.  Exactly two
// concrete types implement it: InvalidTxError, for transactions that can never
// be admitted by any node, and TransientTxError, for transactions that were
// refused only because of the current pool or chain state.
//
// Errors that implement neither type, such as a failure to read the UTXO set,
// say nothing about the transaction and must not be treated as misbehavior by
// the peer that relayed it.
type RejectError interface {
	error

	// IsBadTx returns whether the transaction itself is malformed or
	// violates a rule independent of local state.
	IsBadTx() bool

	// Code returns the reject code describing the rejection.
	Code() wire.RejectCode

	rejectError()
}

// InvalidTxError identifies a transaction that is invalid regardless of local
// state, such as one with a failing script or outputs that exceed its inputs.
type InvalidTxError struct {
	RejectCode  wire.RejectCode // The code to send with reject messages
	Description string          // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e InvalidTxError) Error() string {
	return e.Description
}

// IsBadTx always returns true for an InvalidTxError.
func (e InvalidTxError) IsBadTx() bool { return true }

// Code returns the reject code.
func (e InvalidTxError) Code() wire.RejectCode { return e.RejectCode }

func (e InvalidTxError) rejectError() {}

// TransientTxError identifies a transaction that could not be admitted because
// of the current state of the pool or the chain, such as a missing input or
// a conflict with a transaction already in the pool.
type TransientTxError struct {
	RejectCode  wire.RejectCode // The code to send with reject messages
	Description string          // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e TransientTxError) Error() string {
	return e.Description
}

// IsBadTx always returns false for a TransientTxError.
func (e TransientTxError) IsBadTx() bool { return false }

// Code returns the reject code.
func (e TransientTxError) Code() wire.RejectCode { return e.RejectCode }

func (e TransientTxError) rejectError() {}

// invalidTxError creates an underlying InvalidTxError with the given a set of
// arguments and returns it.
func invalidTxError(c wire.RejectCode, desc string) InvalidTxError {
	return InvalidTxError{RejectCode: c, Description: desc}
}

// transientTxError creates an underlying TransientTxError with the given a set
// of arguments and returns it.
func transientTxError(c wire.RejectCode, desc string) TransientTxError {
	return TransientTxError{RejectCode: c, Description: desc}
}

// ErrToRejectErr examines the underlying type of the error and returns a reject
// code and string appropriate to be sent in a wire.MsgReject message.
func ErrToRejectErr(err error) (wire.RejectCode, string) {
	if rerr, ok := err.(RejectError); ok {
		return rerr.Code(), rerr.Error()
	}

	// Return a generic rejected string if there is no error.  This really
	// should not happen unless the code elsewhere is not setting an error
	// as it should be, but it's best to be safe and simply return a generic
	// string rather than allowing the following code that dereferences the
	// err to panic.
	if err == nil {
		return wire.RejectInvalid, "rejected"
	}

	// When the underlying error is not one of the above cases, just return
	// wire.RejectInvalid with a generic rejected string plus the error
	// text.
	return wire.RejectInvalid, "rejected: " + err.Error()
}
