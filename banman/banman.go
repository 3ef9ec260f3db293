// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package banman keeps the ban records of the connection layer.  A ban maps a
// remote host to the time its ban expires.  Records are optionally persisted
// in a key/value engine so they survive restarts.
package banman

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/txrelay/database/engine"
)

// banKeyPrefix namespaces ban records in the engine.
var banKeyPrefix = []byte("ban:")

// BanManager tracks banned hosts.
type BanManager struct {
	mtx    sync.Mutex
	db     engine.DB
	banned map[string]time.Time

	// now is replaced in tests.
	now func() time.Time
}

func banKey(host string) []byte {
	return append(append([]byte{}, banKeyPrefix...), host...)
}

func serializeExpiry(t time.Time) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.Unix()))
	return buf[:]
}

func deserializeExpiry(buf []byte) (time.Time, error) {
	if len(buf) != 8 {
		return time.Time{}, fmt.Errorf("malformed ban expiry: %d bytes",
			len(buf))
	}
	return time.Unix(int64(binary.BigEndian.Uint64(buf)), 0), nil
}

// New returns a ban manager.  When db is non-nil the existing ban records are
// loaded from it, expired ones are dropped, and future bans are written
// through to it.  A nil db keeps bans in memory only.
func New(db engine.DB) (*BanManager, error) {
	b := &BanManager{
		db:     db,
		banned: make(map[string]time.Time),
		now:    time.Now,
	}
	if db == nil {
		return b, nil
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

// load reads all persisted ban records and purges the expired ones.
func (b *BanManager) load() error {
	now := b.now()
	var expired [][]byte
	err := engine.View(b.db, func(snap engine.Snapshot) error {
		return engine.ForEach(snap, banKeyPrefix, func(k, v []byte) error {
			host := string(k)
			expiry, err := deserializeExpiry(v)
			if err != nil {
				return fmt.Errorf("ban record for %s: %w", host, err)
			}
			if !now.Before(expiry) {
				expired = append(expired, banKey(host))
				return nil
			}
			b.banned[host] = expiry
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("load bans: %w", err)
	}

	if len(expired) > 0 {
		err = engine.Update(b.db, func(batch engine.Batch) error {
			for _, key := range expired {
				if err := batch.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("purge expired bans: %w", err)
		}
	}

	log.Debugf("Loaded %d active bans (%d expired)", len(b.banned),
		len(expired))
	return nil
}

// BanHost bans host for the passed duration and returns the expiry.  Banning
// an already banned host replaces its expiry.
//
// This function is safe for concurrent access.
func (b *BanManager) BanHost(host string, duration time.Duration) (time.Time, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	expiry := b.now().Add(duration)
	b.banned[host] = expiry

	if b.db != nil {
		err := engine.Update(b.db, func(batch engine.Batch) error {
			return batch.Put(banKey(host), serializeExpiry(expiry))
		})
		if err != nil {
			return expiry, fmt.Errorf("persist ban for %s: %w", host, err)
		}
	}

	log.Infof("Banned %s until %v", host, expiry)
	return expiry, nil
}

// IsBanned returns whether host is currently banned along with the ban
// expiry.  Expired bans are removed.
//
// This function is safe for concurrent access.
func (b *BanManager) IsBanned(host string) (bool, time.Time) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	expiry, ok := b.banned[host]
	if !ok {
		return false, time.Time{}
	}
	if b.now().Before(expiry) {
		return true, expiry
	}

	log.Infof("Host %s is no longer banned", host)
	if err := b.removeLocked(host); err != nil {
		log.Errorf("Unable to remove expired ban: %v", err)
	}
	return false, time.Time{}
}

// Unban lifts the ban on host, if any.
//
// This function is safe for concurrent access.
func (b *BanManager) Unban(host string) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.removeLocked(host)
}

// removeLocked drops the ban record for host.  The caller must hold b.mtx.
func (b *BanManager) removeLocked(host string) error {
	delete(b.banned, host)
	if b.db == nil {
		return nil
	}
	return engine.Update(b.db, func(batch engine.Batch) error {
		return batch.Delete(banKey(host))
	})
}

// BannedHosts returns a copy of the active ban records.
//
// This function is safe for concurrent access.
func (b *BanManager) BannedHosts() map[string]time.Time {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	now := b.now()
	hosts := make(map[string]time.Time, len(b.banned))
	for host, expiry := range b.banned {
		if now.Before(expiry) {
			hosts[host] = expiry
		}
	}
	return hosts
}
