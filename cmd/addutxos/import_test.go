// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/txrelay/database/engine"
	"github.com/btcsuite/txrelay/database/engine/leveldb"
	"github.com/btcsuite/txrelay/database/utxostore"
	"github.com/btcsuite/txrelay/mempool"
	"github.com/btcsuite/txrelay/relaywire"
)

var opTrueScript = []byte{txscript.OP_TRUE}

// writeTxs serializes txs into buf in the import file format.
func writeTxs(t *testing.T, buf *bytes.Buffer, net relaywire.RelayNet,
	txs ...*wire.MsgTx) {

	t.Helper()

	for _, tx := range txs {
		var serialized bytes.Buffer
		require.NoError(t, tx.Serialize(&serialized))

		require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(net)))
		require.NoError(t, binary.Write(buf, binary.LittleEndian,
			uint32(serialized.Len())))
		buf.Write(serialized.Bytes())
	}
}

func openTestDB(t *testing.T) engine.DB {
	t.Helper()

	db, err := leveldb.Open(filepath.Join(t.TempDir(), "relay_leveldb"), true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// confirmedTxs returns a coinbase paying two outputs and a transaction
// spending the first of them.
func confirmedTxs() (*wire.MsgTx, *wire.MsgTx) {
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{},
		wire.MaxPrevOutIndex), []byte{0x51, 0x51}, nil))
	coinbase.AddTxOut(wire.NewTxOut(50000, opTrueScript))
	coinbase.AddTxOut(wire.NewTxOut(60000, opTrueScript))

	spend := wire.NewMsgTx(wire.TxVersion)
	spend.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: coinbase.TxHash()},
		nil, nil))
	spend.AddTxOut(wire.NewTxOut(40000, opTrueScript))
	return coinbase, spend
}

// TestImport ensures imported transactions become spendable outputs the pool
// admits relayed transactions against.
func TestImport(t *testing.T) {
	t.Parallel()

	coinbase, spend := confirmedTxs()
	var buf bytes.Buffer
	writeTxs(t, &buf, relaywire.TestNet, coinbase, spend)

	db := openTestDB(t)
	importer := newUtxoImporter(db, &buf, relaywire.TestNet, 0)
	results, err := importer.Import(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, results.txsProcessed)
	require.EqualValues(t, 3, results.outputsAdded)

	store := utxostore.New(db)
	count, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 2, count)

	out, err := store.FetchUtxo(wire.OutPoint{Hash: coinbase.TxHash()})
	require.NoError(t, err)
	require.Nil(t, out, "spent output still present")

	pool := mempool.New(&mempool.Config{
		Policy:      mempool.DefaultPolicy(),
		UtxoSource:  store,
		ScriptFlags: txscript.StandardVerifyFlags,
	})

	relayed := wire.NewMsgTx(wire.TxVersion)
	relayed.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: coinbase.TxHash(),
		Index: 1}, nil, nil))
	relayed.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: spend.TxHash()},
		nil, nil))
	relayed.AddTxOut(wire.NewTxOut(90000, opTrueScript))
	_, err = pool.ProcessTransaction(btcutil.NewTx(relayed))
	require.NoError(t, err)
	require.Equal(t, 1, pool.Count())
}

// TestImportErrors ensures malformed input files stop the import.
func TestImportErrors(t *testing.T) {
	t.Parallel()

	coinbase, _ := confirmedTxs()

	tests := []struct {
		name  string
		input func() []byte
	}{{
		name: "network mismatch",
		input: func() []byte {
			var buf bytes.Buffer
			writeTxs(t, &buf, relaywire.MainNet, coinbase)
			return buf.Bytes()
		},
	}, {
		name: "oversized length",
		input: func() []byte {
			var buf bytes.Buffer
			binary.Write(&buf, binary.LittleEndian, uint32(relaywire.TestNet))
			binary.Write(&buf, binary.LittleEndian,
				uint32(wire.MaxBlockPayload+1))
			return buf.Bytes()
		},
	}, {
		name: "truncated transaction",
		input: func() []byte {
			var buf bytes.Buffer
			writeTxs(t, &buf, relaywire.TestNet, coinbase)
			return buf.Bytes()[:buf.Len()-1]
		},
	}, {
		name: "malformed transaction",
		input: func() []byte {
			var buf bytes.Buffer
			binary.Write(&buf, binary.LittleEndian, uint32(relaywire.TestNet))
			binary.Write(&buf, binary.LittleEndian, uint32(3))
			buf.Write([]byte{0x01, 0x02, 0x03})
			return buf.Bytes()
		},
	}}

	for _, test := range tests {
		db := openTestDB(t)
		importer := newUtxoImporter(db, bytes.NewReader(test.input()),
			relaywire.TestNet, 0)
		results, err := importer.Import(context.Background())
		require.Error(t, err, test.name)
		require.Zero(t, results.txsProcessed, test.name)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	inFile := filepath.Join(dir, "utxos.dat")
	require.NoError(t, os.WriteFile(inFile, nil, 0600))

	cfg, _, err := loadConfig([]string{"--datadir=" + dir,
		"--infile=" + inFile, "--testnet", "--dbtype=pebble"})
	require.NoError(t, err)
	require.Equal(t, relaywire.TestNet, cfg.relayNet)
	require.Equal(t, filepath.Join(dir, "testnet", "relay_pebble"),
		cfg.dbPath())

	_, _, err = loadConfig([]string{"--datadir=" + dir,
		"--infile=" + filepath.Join(dir, "missing.dat")})
	require.Error(t, err)

	_, _, err = loadConfig([]string{"--datadir=" + dir,
		"--infile=" + inFile, "--dbtype=bogus"})
	require.Error(t, err)
}
