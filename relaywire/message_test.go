// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relaywire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testTx returns a small transaction used throughout the tests.
func testTx() *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0x01, 0x02, 0x03},
			Index: 7,
		},
		SignatureScript: []byte{0x51},
		Sequence:        wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(&wire.TxOut{
		Value:    5000,
		PkScript: []byte{0x76, 0xa9},
	})
	return tx
}

// TestRelayTxRoundTrip ensures an encoded relaytx frame decodes to the same
// transaction and cycles.
func TestRelayTxRoundTrip(t *testing.T) {
	t.Parallel()

	msg := NewMsgRelayTx(testTx(), 51570)
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, msg, ProtocolVersion, MainNet))

	frameLen := buf.Len()
	n, got, payload, err := ReadMessageN(&buf, ProtocolVersion, MainNet)
	require.NoError(t, err)
	require.Equal(t, frameLen, n)
	require.Len(t, payload, frameLen-MessageHeaderSize)

	relayTx, ok := got.(*MsgRelayTx)
	require.True(t, ok, "unexpected message type %T", got)
	require.Equal(t, msg.Tx.TxHash(), relayTx.Tx.TxHash())
	require.Equal(t, uint64(51570), relayTx.Cycles)
	require.Contains(t, relayTx.String(), "cycles 51570")
}

// TestEncodeMessageDeterministic ensures encoding the same message twice
// yields identical frames.
func TestEncodeMessageDeterministic(t *testing.T) {
	t.Parallel()

	msg := NewMsgRelayTx(testTx(), 1000)
	frame1, err := EncodeMessage(msg, ProtocolVersion, MainNet)
	require.NoError(t, err)
	frame2, err := EncodeMessage(msg, ProtocolVersion, MainNet)
	require.NoError(t, err)
	require.Equal(t, frame1, frame2)

	require.Equal(t, uint32(MainNet),
		binary.LittleEndian.Uint32(frame1[0:4]))
	require.Equal(t, CmdRelayTx,
		string(bytes.TrimRight(frame1[4:16], "\x00")))
	require.Equal(t, uint32(len(frame1)-MessageHeaderSize),
		binary.LittleEndian.Uint32(frame1[16:20]))
}

// TestEncodeNilTx ensures a message without a transaction is not encoded.
func TestEncodeNilTx(t *testing.T) {
	t.Parallel()

	_, err := EncodeMessage(&MsgRelayTx{Cycles: 1}, ProtocolVersion, MainNet)
	var merr *MessageError
	require.True(t, errors.As(err, &merr))
}

// TestReadMessageWireErrors performs negative tests against frame decoding to
// ensure malformed frames are rejected and that the stream stays aligned
// after a rejected frame.
func TestReadMessageWireErrors(t *testing.T) {
	t.Parallel()

	good, err := EncodeMessage(NewMsgRelayTx(testTx(), 42),
		ProtocolVersion, MainNet)
	require.NoError(t, err)

	otherNet, err := EncodeMessage(NewMsgRelayTx(testTx(), 42),
		ProtocolVersion, TestNet)
	require.NoError(t, err)

	badChecksum := append([]byte{}, good...)
	badChecksum[len(badChecksum)-1] ^= 0xff

	unknownCmd := append([]byte{}, good...)
	copy(unknownCmd[4:16], []byte("bogus\x00\x00\x00\x00\x00\x00\x00"))

	tooLarge := append([]byte{}, good[:MessageHeaderSize]...)
	binary.LittleEndian.PutUint32(tooLarge[16:20], MaxMessagePayload+1)

	// Payload with trailing garbage and a matching checksum.
	trailing := append([]byte{}, good[MessageHeaderSize:]...)
	trailing = append(trailing, 0x00)
	trailingFrame := make([]byte, MessageHeaderSize)
	copy(trailingFrame, good[:16])
	binary.LittleEndian.PutUint32(trailingFrame[16:20], uint32(len(trailing)))
	copy(trailingFrame[20:24], chainhash.DoubleHashB(trailing)[0:4])
	trailingFrame = append(trailingFrame, trailing...)

	tests := []struct {
		name        string
		frame       []byte
		wantErr     error
		wantMsgErr  bool
		wantAligned bool
	}{
		{"other network", otherNet, nil, true, true},
		{"bad checksum", badChecksum, nil, true, true},
		{"unknown command", unknownCmd, ErrUnknownMessage, false, true},
		{"payload too large", tooLarge, nil, true, false},
		{"trailing bytes", trailingFrame, nil, true, true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			stream := append(append([]byte{}, test.frame...), good...)
			r := bytes.NewReader(stream)

			_, _, err := ReadMessage(r, ProtocolVersion, MainNet)
			require.Error(t, err)
			if test.wantErr != nil {
				require.ErrorIs(t, err, test.wantErr)
			}
			if test.wantMsgErr {
				var merr *MessageError
				require.True(t, errors.As(err, &merr),
					"unexpected error type %T: %v", err, err)
			}

			if !test.wantAligned {
				return
			}
			msg, _, err := ReadMessage(r, ProtocolVersion, MainNet)
			require.NoError(t, err)
			require.Equal(t, uint64(42), msg.(*MsgRelayTx).Cycles)
		})
	}
}

// TestReadMessageShortHeader ensures a truncated header surfaces the
// underlying read error.
func TestReadMessageShortHeader(t *testing.T) {
	t.Parallel()

	good, err := EncodeMessage(NewMsgRelayTx(testTx(), 42),
		ProtocolVersion, MainNet)
	require.NoError(t, err)

	n, _, _, err := ReadMessageN(bytes.NewReader(good[:10]),
		ProtocolVersion, MainNet)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, 10, n)

	_, _, err = ReadMessage(bytes.NewReader(nil), ProtocolVersion, MainNet)
	require.ErrorIs(t, err, io.EOF)
}

// TestRelayNetStringer tests the stringized output for relay network types.
func TestRelayNetStringer(t *testing.T) {
	t.Parallel()

	require.Equal(t, "MainNet", MainNet.String())
	require.Equal(t, "TestNet", TestNet.String())
	require.Equal(t, "Unknown RelayNet (1)", RelayNet(1).String())
}
