// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// addutxos seeds the unspent output set txrelayd validates relayed
// transactions against.  It reads confirmed transactions from a file and
// applies each of them to the set.  txrelayd must not be running while it
// does so.
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"

	"github.com/btcsuite/txrelay/database/engine"
	"github.com/btcsuite/txrelay/internal/limits"
)

var (
	cfg *config
	log = btclog.Disabled
)

// loadUtxoDB opens the database txrelayd keeps unspent outputs in, creating
// it when it does not exist yet.
func loadUtxoDB() (engine.DB, error) {
	dbPath := cfg.dbPath()
	log.Infof("Loading %s database from '%s'", cfg.DbType, dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}
	db, err := engine.Open(cfg.DbType, dbPath)
	if err != nil {
		return nil, err
	}

	log.Info("Database loaded")
	return db, nil
}

// realMain is the real main function for the utility.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
func realMain() error {
	// Load configuration and parse command line.
	tcfg, _, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	cfg = tcfg

	// Setup logging.
	backendLogger := btclog.NewBackend(os.Stdout)
	defer os.Stdout.Sync()
	log = backendLogger.Logger("MAIN")

	db, err := loadUtxoDB()
	if err != nil {
		log.Errorf("Failed to load database: %v", err)
		return err
	}
	defer db.Close()

	fi, err := os.Open(cfg.InFile)
	if err != nil {
		log.Errorf("Failed to open file %v: %v", cfg.InFile, err)
		return err
	}
	defer fi.Close()

	importer := newUtxoImporter(db, fi, cfg.relayNet, cfg.Progress)

	log.Info("Starting import")
	results, err := importer.Import(context.Background())
	if err != nil {
		log.Errorf("%v", err)
		return err
	}

	log.Infof("Processed a total of %d transactions (%d outputs added)",
		results.txsProcessed, results.outputsAdded)
	return nil
}

func main() {
	// Up some limits.
	if err := limits.SetLimits(); err != nil {
		os.Exit(1)
	}

	// Work around defer not working after os.Exit()
	if err := realMain(); err != nil {
		os.Exit(1)
	}
}
