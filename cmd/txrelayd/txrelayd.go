// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/btcsuite/txrelay/banman"
	"github.com/btcsuite/txrelay/database/engine"
	"github.com/btcsuite/txrelay/database/utxostore"
	"github.com/btcsuite/txrelay/internal/limits"
	"github.com/btcsuite/txrelay/internal/log"
	"github.com/btcsuite/txrelay/internal/version"
	"github.com/btcsuite/txrelay/mempool"
	"github.com/btcsuite/txrelay/relay"
)

const (
	// defaultSigCacheMaxSize is the number of verified signatures kept to
	// avoid verifying them twice.
	defaultSigCacheMaxSize = 100000

	// sentryFlushTimeout bounds how long pending alerts are delivered for
	// on shutdown.
	sentryFlushTimeout = 2 * time.Second
)

var (
	cfg     *config
	txrdLog = log.TxrdLog
)

// versionString returns the application version as a properly formed string.
func versionString() string {
	return version.String()
}

// openDB opens the database the ban list and the unspent outputs are kept in.
// The database is created when it does not exist yet.
func openDB(dbType, dbPath string) (engine.DB, error) {
	txrdLog.Infof("Loading %s database from '%s'", dbType, dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}

	return engine.Open(dbType, dbPath)
}

// newAlerter returns the sink alerts about peers relaying invalid
// transactions are delivered to.
func newAlerter(cfg *config) (relay.Alerter, error) {
	if cfg.SentryDSN == "" {
		return nil, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:     cfg.SentryDSN,
		Release: "txrelayd@" + versionString(),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize sentry: %w", err)
	}
	return relay.NewSentryAlerter(sentry.CurrentHub()), nil
}

// serveMetrics exposes the prometheus metrics of reg over HTTP until the
// server is closed.
func serveMetrics(listenAddr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		txrdLog.Infof("Metrics server listening on %s", listenAddr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			txrdLog.Errorf("Metrics server: %v", err)
		}
	}()
	return srv
}

// txrelaydMain is the real main function for txrelayd.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func txrelaydMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	cfg = tcfg

	// Initialize the log rotator now that the log directory is known.
	if err := log.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem.
	interrupt := interruptListener()
	defer txrdLog.Info("Shutdown complete")

	// Show version at startup.
	txrdLog.Infof("Version %s (Go version %s %s/%s)", versionString(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)

	// Load the database the ban list and unspent outputs live in.
	db, err := openDB(cfg.DbType, filepath.Join(cfg.DataDir, "relay_"+cfg.DbType))
	if err != nil {
		txrdLog.Errorf("%v", err)
		return err
	}
	defer func() {
		// Ensure the database is sync'd and closed on shutdown.
		txrdLog.Infof("Gracefully shutting down the database...")
		db.Close()
	}()

	// Return now if an interrupt signal was triggered.
	if interruptRequested(interrupt) {
		return nil
	}

	banMgr, err := banman.New(db)
	if err != nil {
		txrdLog.Errorf("Unable to load ban list: %v", err)
		return err
	}

	txPool := mempool.New(&mempool.Config{
		Policy: mempool.Policy{
			MaxTxSize:   cfg.MaxTxSize,
			MaxTxCycles: mempool.Cycles(cfg.MaxTxCycles),
		},
		UtxoSource:  utxostore.New(db),
		ScriptFlags: txscript.StandardVerifyFlags,
		SigCache:    txscript.NewSigCache(defaultSigCacheMaxSize),
	})

	alerter, err := newAlerter(cfg)
	if err != nil {
		txrdLog.Errorf("%v", err)
		return err
	}
	if alerter != nil {
		defer sentry.Flush(sentryFlushTimeout)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	// Create server and start it.
	server, err := newServer(cfg, banMgr, relay.Config{
		TxPool:          txPool,
		Alerter:         alerter,
		TxFilterSize:    cfg.TxFilterSize,
		KnownTxsPerPeer: cfg.KnownTxsPerPeer,
		MaxRelayPeers:   cfg.MaxRelayPeers,
		BanDuration:     cfg.BanDuration,
		StatsInterval:   cfg.StatsInterval,
		Registerer:      reg,
	})
	if err != nil {
		txrdLog.Errorf("Unable to start server on %v: %v",
			cfg.Listeners, err)
		return err
	}
	defer func() {
		txrdLog.Infof("Gracefully shutting down the server...")
		server.Stop()
		server.WaitForShutdown()
		srvrLog.Infof("Server shutdown complete")
	}()
	server.Start()

	if cfg.MetricsListen != "" {
		metricsServer := serveMetrics(cfg.MetricsListen, reg)
		defer metricsServer.Close()
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems.
	<-interrupt
	return nil
}

func main() {
	// Up some limits.
	if err := limits.SetLimits(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set limits: %v\n", err)
		os.Exit(1)
	}

	// Work around defer not working after os.Exit()
	if err := txrelaydMain(); err != nil {
		os.Exit(1)
	}
}
