// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package relay

import (
	"time"
)

// DefaultBanDuration is how long a peer is banned for relaying an invalid
// transaction or misstating its cycles.
const DefaultBanDuration = 3 * 24 * time.Hour

// banPeer asks the connection layer to ban peer for the configured duration.
// The same duration applies to every offense.
func (r *Relayer) banPeer(peer PeerID, reason string) {
	log.Infof("Banning peer %d for %v: %s", peer, r.cfg.BanDuration, reason)
	r.cfg.ConnManager.BanPeer(peer, r.cfg.BanDuration)
	r.metrics.bans.Inc()
}
