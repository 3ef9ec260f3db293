// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package engine defines the key/value store the relay daemon keeps its ban
// list and unspent outputs in.  Concrete stores live in the leveldb and
// pebbledb subpackages and register themselves as drivers, so callers select
// one by name with Open.
package engine

import "errors"

var (
	// ErrNotFound is returned by Snapshot.Get when the requested key does
	// not exist.  Drivers translate their own not-found errors to it.
	ErrNotFound = errors.New("engine: key not found")

	// ErrDbUnknownType is returned by Open for an unregistered driver.
	ErrDbUnknownType = errors.New("engine: unknown database type")

	// ErrIterReleased is reported by an iterator used after Release.
	ErrIterReleased = errors.New("engine: iterator released")
)

// DB is an open key/value store.
type DB interface {
	// NewBatch starts a set of writes applied atomically by Commit.
	NewBatch() (Batch, error)

	// NewSnapshot returns a consistent read-only view of the store.
	NewSnapshot() (Snapshot, error)

	// Close releases the store.  Closing twice returns an error.
	Close() error
}

// Batch collects writes.  Nothing is visible to snapshots before Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error

	// Commit applies the writes.  A batch cannot be reused afterwards.
	Commit() error

	// Discard drops the writes.  It is safe to call more than once.
	Discard()
}

// Snapshot is a point in time view of the store.
type Snapshot interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewIterator(r *Range) Iterator

	// Release frees the view.  It is safe to call more than once.
	Release()
}

// Iterator walks the keys of a Range in ascending order.  A new iterator is
// positioned before the first key, so Next yields it.
type Iterator interface {
	First() bool
	Next() bool
	Error() error

	// Key and Value are only valid until the next call to Next.
	Key() []byte
	Value() []byte

	Release()
}

// Update runs fn against a new batch which is committed when fn returns nil
// and discarded otherwise.
func Update(db DB, fn func(b Batch) error) error {
	b, err := db.NewBatch()
	if err != nil {
		return err
	}
	if err := fn(b); err != nil {
		b.Discard()
		return err
	}
	return b.Commit()
}

// View runs fn against a fresh snapshot which is released afterwards.
func View(db DB, fn func(snap Snapshot) error) error {
	snap, err := db.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()
	return fn(snap)
}
