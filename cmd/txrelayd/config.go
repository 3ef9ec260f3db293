// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/txrelay/database/engine"
	_ "github.com/btcsuite/txrelay/database/engine/leveldb"
	_ "github.com/btcsuite/txrelay/database/engine/pebbledb"
	"github.com/btcsuite/txrelay/internal/log"
	"github.com/btcsuite/txrelay/mempool"
	"github.com/btcsuite/txrelay/relay"
	"github.com/btcsuite/txrelay/relaywire"
	"github.com/btcsuite/txrelay/sampleconfig"
)

const (
	defaultConfigFilename = "txrelayd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "txrelayd.log"
	defaultDbType         = "leveldb"
	defaultMaxPeers       = 125
	defaultMainNetPort    = "8433"
	defaultTestNetPort    = "18433"
)

var (
	defaultHomeDir    = btcutil.AppDataDir("txrelayd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
	knownDbTypes      = engine.SupportedDBs()
)

// config defines the configuration options for txrelayd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion     bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile      string        `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir         string        `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir          string        `long:"logdir" description:"Directory to log output"`
	DebugLevel      string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Listeners       []string      `long:"listen" description:"Add an interface/port to listen for connections (default all interfaces port: 8433, testnet: 18433)"`
	ConnectPeers    []string      `long:"connect" description:"Connect to the specified peers at startup"`
	Proxy           string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser       string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass       string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	MaxPeers        int           `long:"maxpeers" description:"Max number of inbound and outbound peers"`
	DbType          string        `long:"dbtype" description:"Database backend to use for bans and unspent outputs {leveldb, pebble}"`
	TestNet         bool          `long:"testnet" description:"Use the test network"`
	BanDuration     time.Duration `long:"banduration" description:"How long to ban misbehaving peers.  Valid time units are {s, m, h}.  Minimum 1 second"`
	MaxRelayPeers   int           `long:"maxrelaypeers" description:"Max number of peers an accepted transaction is relayed to"`
	TxFilterSize    uint          `long:"txfiltersize" description:"Number of recently seen transactions remembered across all peers"`
	KnownTxsPerPeer uint          `long:"knowntxsperpeer" description:"Number of transactions remembered per peer"`
	MaxTxSize       int           `long:"maxtxsize" description:"Max serialized size of an accepted transaction in bytes"`
	MaxTxCycles     uint64        `long:"maxtxcycles" description:"Max verification cycles of an accepted transaction"`
	MetricsListen   string        `long:"metricslisten" description:"Serve prometheus metrics on this interface/port (eg. 127.0.0.1:9433) -- disabled when empty"`
	StatsInterval   time.Duration `long:"statsinterval" description:"Minimum interval between relay statistics log lines"`
	SentryDSN       string        `long:"sentrydsn" description:"Sentry DSN invalid transaction alerts are sent to -- alerts are only logged when empty"`

	relayNet relaywire.RelayNet
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		log.SetLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := log.SubsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, log.SupportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		log.SetLogLevel(subsysID, logLevel)
	}

	return nil
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

// netName returns the name of the active relay network.  It namespaces the
// data and log directories.
func netName(net relaywire.RelayNet) string {
	if net == relaywire.TestNet {
		return "testnet"
	}
	return "mainnet"
}

// defaultPort returns the default listening port for the passed network.
func defaultPort(net relaywire.RelayNet) string {
	if net == relaywire.TestNet {
		return defaultTestNetPort
	}
	return defaultMainNetPort
}

// normalizeAddress returns addr with the default port appended when it has
// none.
func normalizeAddress(addr, defaultPort string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
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

// createDefaultConfigFile creates a config file at the provided path from the
// commented sample configuration.
func createDefaultConfigFile(destPath string) error {
	// Create the destination directory if it does not exist.
	err := os.MkdirAll(filepath.Dir(destPath), 0700)
	if err != nil {
		return err
	}

	return os.WriteFile(destPath, []byte(sampleconfig.FileContents), 0600)
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	return flags.NewParser(cfg, options)
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in txrelayd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig(args []string) (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:      defaultConfigFile,
		DataDir:         defaultDataDir,
		LogDir:          defaultLogDir,
		DebugLevel:      defaultLogLevel,
		MaxPeers:        defaultMaxPeers,
		DbType:          defaultDbType,
		BanDuration:     relay.DefaultBanDuration,
		MaxRelayPeers:   relay.DefaultMaxRelayPeers,
		TxFilterSize:    relay.DefaultTxFilterSize,
		KnownTxsPerPeer: relay.DefaultKnownTxsPerPeer,
		MaxTxSize:       mempool.DefaultMaxTxSize,
		MaxTxCycles:     mempool.DefaultMaxTxCycles,
		StatsInterval:   relay.DefaultStatsInterval,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", versionString())
		os.Exit(0)
	}

	// Create a default config file when one does not exist and the user did
	// not specify an override.
	if preCfg.ConfigFile == defaultConfigFile && !fileExists(preCfg.ConfigFile) {
		err := createDefaultConfigFile(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default config "+
				"file: %v\n", err)
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Choose the active network based on the testnet flag.
	cfg.relayNet = relaywire.MainNet
	if cfg.TestNet {
		cfg.relayNet = relaywire.TestNet
	}

	// Append the network type to the data and log directories so they are
	// "namespaced" per network.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, netName(cfg.relayNet))
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, netName(cfg.relayNet))

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", log.SupportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %v", err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Validate database type.
	if !validDbType(cfg.DbType) {
		str := "loadConfig: The specified database type [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, cfg.DbType, knownDbTypes)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Don't allow ban durations that are too short.
	if cfg.BanDuration < time.Second {
		str := "loadConfig: The banduration option may not be less than 1s -- parsed [%v]"
		err := fmt.Errorf(str, cfg.BanDuration)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// The relay limits must be positive.
	if cfg.MaxPeers < 1 || cfg.MaxRelayPeers < 1 || cfg.MaxTxSize < 1 ||
		cfg.MaxTxCycles < 1 || cfg.TxFilterSize < 1 || cfg.KnownTxsPerPeer < 1 {

		str := "loadConfig: The maxpeers, maxrelaypeers, maxtxsize, " +
			"maxtxcycles, txfiltersize and knowntxsperpeer options " +
			"must be positive"
		err := errors.New(str)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// --proxyuser and --proxypass are meaningless without --proxy.
	if cfg.Proxy == "" && (cfg.ProxyUser != "" || cfg.ProxyPass != "") {
		str := "loadConfig: The proxyuser and proxypass options require " +
			"the proxy option"
		err := errors.New(str)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Add the default listener if none were specified.
	port := defaultPort(cfg.relayNet)
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{net.JoinHostPort("", port)}
	}
	for i, addr := range cfg.Listeners {
		cfg.Listeners[i] = normalizeAddress(addr, port)
	}
	for i, addr := range cfg.ConnectPeers {
		cfg.ConnectPeers[i] = normalizeAddress(addr, port)
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		log.TxrdLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
