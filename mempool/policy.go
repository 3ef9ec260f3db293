// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// DefaultMaxTxSize is the default maximum serialized size in bytes of
	// a transaction admitted to the pool.
	DefaultMaxTxSize = 100000

	// DefaultMaxTxCycles is the default maximum number of cycles a single
	// transaction may consume.
	DefaultMaxTxCycles = 70000000

	// BaseTxCycles is charged once for every transaction.
	BaseTxCycles = 1000

	// InputCycles is charged for every transaction input to cover the
	// lookup of the output it spends.
	InputCycles = 500

	// OpcodeCycles is charged for every opcode the script engine executes.
	OpcodeCycles = 10

	// SigOpCycles is charged for every signature operation in the
	// signature script and the public key script of an input.
	SigOpCycles = 50000
)

// Cycles is the computational cost the pool assigns to executing a
// transaction.
type Cycles uint64

// Policy houses the policy (configuration parameters) which is used to
// control the mempool.
type Policy struct {
	// MaxTxSize is the maximum serialized size in bytes of a transaction
	// the pool will admit.
	MaxTxSize int

	// MaxTxCycles is the maximum number of cycles a transaction may
	// consume and still be admitted.
	MaxTxCycles Cycles
}

// DefaultPolicy returns the policy used when the caller does not override
// anything.
func DefaultPolicy() Policy {
	return Policy{
		MaxTxSize:   DefaultMaxTxSize,
		MaxTxCycles: DefaultMaxTxCycles,
	}
}

// checkTxSize ensures the serialized transaction does not exceed the policy
// size limit.
func checkTxSize(tx *btcutil.Tx, maxSize int) error {
	serializedLen := tx.MsgTx().SerializeSize()
	if serializedLen > maxSize {
		str := fmt.Sprintf("transaction size of %v is larger than max "+
			"allowed size of %v", serializedLen, maxSize)
		return invalidTxError(wire.RejectNonstandard, str)
	}
	return nil
}

// prevOutFetcher builds the previous output fetcher used by the script engine
// from the resolved inputs of a transaction.
func prevOutFetcher(msgTx *wire.MsgTx, prevOuts []*wire.TxOut) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range msgTx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOuts[i])
	}
	return fetcher
}

// calcTxCycles executes the scripts of every input of the transaction and
// returns the cycles consumed.  prevOuts must hold the output spent by each
// input, in input order.
//
// Any script failure is reported as an InvalidTxError since script execution
// only depends on the transaction and the outputs it spends.
func calcTxCycles(tx *btcutil.Tx, prevOuts []*wire.TxOut,
	flags txscript.ScriptFlags, sigCache *txscript.SigCache) (Cycles, error) {

	msgTx := tx.MsgTx()
	fetcher := prevOutFetcher(msgTx, prevOuts)
	sigHashes := txscript.NewTxSigHashes(msgTx, fetcher)

	cycles := Cycles(BaseTxCycles)
	for txInIdx, txIn := range msgTx.TxIn {
		prevOut := prevOuts[txInIdx]
		cycles += InputCycles

		sigOps := txscript.GetPreciseSigOpCount(txIn.SignatureScript,
			prevOut.PkScript, true)
		cycles += Cycles(sigOps) * SigOpCycles

		vm, err := txscript.NewEngine(prevOut.PkScript, msgTx, txInIdx,
			flags, sigCache, sigHashes, prevOut.Value, fetcher)
		if err != nil {
			str := fmt.Sprintf("failed to parse input %d of "+
				"transaction %v: %v", txInIdx, tx.Hash(), err)
			return 0, invalidTxError(wire.RejectInvalid, str)
		}

		for {
			done, err := vm.Step()
			if err != nil {
				str := fmt.Sprintf("failed to validate input "+
					"%d of transaction %v: %v", txInIdx,
					tx.Hash(), err)
				return 0, invalidTxError(wire.RejectInvalid, str)
			}
			cycles += OpcodeCycles
			if done {
				break
			}
		}
		if err := vm.CheckErrorCondition(true); err != nil {
			str := fmt.Sprintf("failed to validate input %d of "+
				"transaction %v: %v", txInIdx, tx.Hash(), err)
			return 0, invalidTxError(wire.RejectInvalid, str)
		}
	}

	return cycles, nil
}
