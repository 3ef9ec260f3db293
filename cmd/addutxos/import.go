// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"golang.org/x/sync/errgroup"

	"github.com/btcsuite/txrelay/database/engine"
	"github.com/btcsuite/txrelay/database/utxostore"
	"github.com/btcsuite/txrelay/relaywire"
)

// importResults houses the stats of an import operation.
type importResults struct {
	txsProcessed int64
	outputsAdded int64
}

// utxoImporter houses information about an ongoing import from a transaction
// file to the unspent output set.
type utxoImporter struct {
	store    *utxostore.Store
	r        io.Reader
	net      relaywire.RelayNet
	progress time.Duration

	results       importResults
	receivedLogTx int64
	lastLogTime   time.Time
}

// readTx reads the next transaction from the input file.
func (ui *utxoImporter) readTx() ([]byte, error) {
	// The transaction file format is:
	//  <network> <transaction length> <serialized transaction>
	var net uint32
	err := binary.Read(ui.r, binary.LittleEndian, &net)
	if err != nil {
		if err != io.EOF {
			return nil, err
		}

		// No transaction and no error means there are no more
		// transactions to read.
		return nil, nil
	}
	if net != uint32(ui.net) {
		return nil, fmt.Errorf("network mismatch -- got %x, want %x",
			net, uint32(ui.net))
	}

	// Read the transaction length and ensure it is sane.
	var txLen uint32
	if err := binary.Read(ui.r, binary.LittleEndian, &txLen); err != nil {
		return nil, err
	}
	if txLen > wire.MaxBlockPayload {
		return nil, fmt.Errorf("transaction payload of %d bytes is "+
			"larger than the max allowed %d bytes", txLen,
			wire.MaxBlockPayload)
	}

	serializedTx := make([]byte, txLen)
	if _, err := io.ReadFull(ui.r, serializedTx); err != nil {
		return nil, err
	}

	return serializedTx, nil
}

// processTx deserializes a confirmed transaction and applies it to the
// unspent output set.  It returns the number of outputs added.
func (ui *utxoImporter) processTx(serializedTx []byte) (int, error) {
	tx, err := btcutil.NewTxFromBytes(serializedTx)
	if err != nil {
		return 0, err
	}

	msgTx := tx.MsgTx()
	if err := ui.store.ConnectTx(msgTx); err != nil {
		return 0, fmt.Errorf("unable to connect transaction %v: %w",
			tx.Hash(), err)
	}
	return len(msgTx.TxOut), nil
}

// logProgress logs import progress as an information message, at most once
// every progress interval.
func (ui *utxoImporter) logProgress() {
	ui.receivedLogTx++

	if ui.progress <= 0 {
		return
	}
	now := time.Now()
	duration := now.Sub(ui.lastLogTime)
	if duration < ui.progress {
		return
	}

	// Truncate the duration to 10s of milliseconds.
	tDuration := duration.Truncate(10 * time.Millisecond)

	txStr := "transactions"
	if ui.receivedLogTx == 1 {
		txStr = "transaction"
	}
	log.Infof("Processed %d %s in the last %s (%d total)",
		ui.receivedLogTx, txStr, tDuration, ui.results.txsProcessed)

	ui.receivedLogTx = 0
	ui.lastLogTime = now
}

// Import reads every transaction from the importer's file and applies it to
// the unspent output set.  Transactions are read in parallel with being
// applied.  The statistics gathered so far are returned along with the first
// error encountered.
func (ui *utxoImporter) Import(ctx context.Context) (*importResults, error) {
	g, ctx := errgroup.WithContext(ctx)
	processQueue := make(chan []byte, 2)

	g.Go(func() error {
		// Closing the queue signals no more transactions are coming.
		defer close(processQueue)

		for {
			serializedTx, err := ui.readTx()
			if err != nil {
				return fmt.Errorf("error reading from input "+
					"file: %w", err)
			}

			// A nil transaction with no error means we're done.
			if serializedTx == nil {
				return nil
			}

			select {
			case processQueue <- serializedTx:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case serializedTx, ok := <-processQueue:
				if !ok {
					return nil
				}

				added, err := ui.processTx(serializedTx)
				if err != nil {
					return err
				}
				ui.results.txsProcessed++
				ui.results.outputsAdded += int64(added)
				ui.logProgress()

			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	err := g.Wait()
	results := ui.results
	return &results, err
}

// newUtxoImporter returns a new importer applying the transactions read from
// r to the unspent output set in db.
func newUtxoImporter(db engine.DB, r io.Reader, net relaywire.RelayNet,
	progressSecs int) *utxoImporter {

	return &utxoImporter{
		store:       utxostore.New(db),
		r:           r,
		net:         net,
		progress:    time.Duration(progressSecs) * time.Second,
		lastLogTime: time.Now(),
	}
}
