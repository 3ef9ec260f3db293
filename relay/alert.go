// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/getsentry/sentry-go"
)

// InvalidTxAlert describes a peer banned for relaying an invalid transaction.
type InvalidTxAlert struct {
	Peer        PeerID
	BanDuration time.Duration
	TxHash      chainhash.Hash
	Err         error
}

// String returns the alert in human-readable form.
func (a *InvalidTxAlert) String() string {
	return fmt.Sprintf("ban peer %d for %v seconds: relayed invalid "+
		"transaction %v: %v", a.Peer, int64(a.BanDuration.Seconds()),
		a.TxHash, a.Err)
}

// Alerter receives operational alerts.  Alert must return promptly and must
// not fail the processing that raised the alert.
type Alerter interface {
	Alert(alert *InvalidTxAlert)
}

// logAlerter writes alerts to the package logger.  It is used when no other
// alerter is configured.
type logAlerter struct{}

// Alert logs the alert at the info level.
func (logAlerter) Alert(alert *InvalidTxAlert) {
	log.Infof("Alert: %v", alert)
}

// SentryAlerter reports alerts as sentry events.
type SentryAlerter struct {
	hub *sentry.Hub
}

// NewSentryAlerter returns an alerter capturing events on hub.  A nil hub
// uses the current hub.
func NewSentryAlerter(hub *sentry.Hub) *SentryAlerter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryAlerter{hub: hub}
}

// Alert captures the alert as an info level sentry message tagged with the
// peer and transaction.  Every alert is captured on its own clone of the hub
// so concurrent alerts never share a scope.  Events are delivered
// asynchronously by the sentry transport.
//
// This function is safe for concurrent access.
func (a *SentryAlerter) Alert(alert *InvalidTxAlert) {
	hub := a.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelInfo)
		scope.SetTag("peer", strconv.FormatInt(int64(alert.Peer), 10))
		scope.SetTag("tx", alert.TxHash.String())
		scope.SetContext("ban", sentry.Context{
			"duration_seconds": int64(alert.BanDuration.Seconds()),
			"error":            fmt.Sprint(alert.Err),
		})
	})
	hub.CaptureMessage(alert.String())
}
