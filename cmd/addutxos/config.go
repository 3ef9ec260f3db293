// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/txrelay/database/engine"
	_ "github.com/btcsuite/txrelay/database/engine/leveldb"
	_ "github.com/btcsuite/txrelay/database/engine/pebbledb"
	"github.com/btcsuite/txrelay/relaywire"
)

const (
	defaultDbType   = "leveldb"
	defaultDataFile = "utxos.dat"
	defaultProgress = 10
)

var (
	txrelaydHomeDir = btcutil.AppDataDir("txrelayd", false)
	defaultDataDir  = filepath.Join(txrelaydHomeDir, "data")
	knownDbTypes    = engine.SupportedDBs()
)

// config defines the configuration options for addutxos.
//
// See loadConfig for details on the configuration load process.
type config struct {
	DataDir  string `short:"b" long:"datadir" description:"Location of the txrelayd data directory"`
	DbType   string `long:"dbtype" description:"Database backend txrelayd keeps unspent outputs in {leveldb, pebble}"`
	InFile   string `short:"i" long:"infile" description:"File containing the confirmed transactions"`
	Progress int    `short:"p" long:"progress" description:"Show a progress message each time this number of seconds have passed -- Use 0 to disable progress announcements"`
	TestNet  bool   `long:"testnet" description:"Use the test network"`

	relayNet relaywire.RelayNet
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, knownType := range knownDbTypes {
		if dbType == knownType {
			return true
		}
	}

	return false
}

// netName returns the directory name txrelayd uses for the passed network.
func netName(net relaywire.RelayNet) string {
	if net == relaywire.TestNet {
		return "testnet"
	}
	return "mainnet"
}

// dbPath returns the path of the database txrelayd opens for cfg.
func (cfg *config) dbPath() string {
	return filepath.Join(cfg.DataDir, "relay_"+cfg.DbType)
}

// loadConfig initializes and parses the config using command line options.
func loadConfig(args []string) (*config, []string, error) {
	// Default config.
	cfg := config{
		DataDir:  defaultDataDir,
		DbType:   defaultDbType,
		InFile:   defaultDataFile,
		Progress: defaultProgress,
	}

	// Parse command line options.
	parser := flags.NewParser(&cfg, flags.Default)
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	cfg.relayNet = relaywire.MainNet
	if cfg.TestNet {
		cfg.relayNet = relaywire.TestNet
	}

	// Validate database type.
	if !validDbType(cfg.DbType) {
		str := "%s: The specified database type [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, "loadConfig", cfg.DbType, knownDbTypes)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// The data directory is namespaced per network the same way txrelayd
	// does it.
	cfg.DataDir = filepath.Join(cfg.DataDir, netName(cfg.relayNet))

	// Ensure the specified transaction file exists.
	if !fileExists(cfg.InFile) {
		str := "%s: The specified transaction file [%v] does not exist"
		err := fmt.Errorf(str, "loadConfig", cfg.InFile)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
