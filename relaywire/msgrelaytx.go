// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relaywire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
)

// MsgRelayTx implements the Message interface and represents a relaytx
// message.  It announces a transaction together with the cycle cost the
// sender computed for it.
//
// The cycle cost is a claim made by the sender.  Receivers recompute it and
// must not trust it.
type MsgRelayTx struct {
	Tx     *wire.MsgTx
	Cycles uint64
}

// BtcDecode decodes r using the relay protocol encoding into the receiver.
// This is part of the Message interface implementation.
func (msg *MsgRelayTx) BtcDecode(r io.Reader, pver uint32) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	msg.Cycles = binary.LittleEndian.Uint64(buf[:])

	tx := new(wire.MsgTx)
	if err := tx.Deserialize(r); err != nil {
		return err
	}
	msg.Tx = tx
	return nil
}

// BtcEncode encodes the receiver to w using the relay protocol encoding.
// This is part of the Message interface implementation.
func (msg *MsgRelayTx) BtcEncode(w io.Writer, pver uint32) error {
	if msg.Tx == nil {
		return messageError("MsgRelayTx.BtcEncode", "nil transaction")
	}

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], msg.Cycles)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	return msg.Tx.Serialize(w)
}

// Command returns the protocol command string for the message.  This is part
// of the Message interface implementation.
func (msg *MsgRelayTx) Command() string {
	return CmdRelayTx
}

// MaxPayloadLength returns the maximum length the payload can be for the
// receiver.  This is part of the Message interface implementation.
func (msg *MsgRelayTx) MaxPayloadLength(pver uint32) uint32 {
	return wire.MaxBlockPayload + 8
}

// String returns a short human-readable description of the message.
func (msg *MsgRelayTx) String() string {
	if msg.Tx == nil {
		return fmt.Sprintf("relaytx <nil> cycles %d", msg.Cycles)
	}
	return fmt.Sprintf("relaytx %v cycles %d", msg.Tx.TxHash(), msg.Cycles)
}

// NewMsgRelayTx returns a new relaytx message for the passed transaction and
// cycle cost.
func NewMsgRelayTx(tx *wire.MsgTx, cycles uint64) *MsgRelayTx {
	return &MsgRelayTx{Tx: tx, Cycles: cycles}
}
