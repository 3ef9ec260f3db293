// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package pebbledb implements the "pebble" database driver.
package pebbledb

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/btcsuite/txrelay/database/engine"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

const dbType = "pebble"

var (
	ErrDbClosed         = errors.New("pebbledb: closed")
	ErrBatchDone        = errors.New("pebbledb: batch already committed or discarded")
	ErrSnapshotReleased = errors.New("pebbledb: snapshot released")
)

// Options tunes the pebble store.  Zero values select the defaults.
type Options struct {
	// CacheMiB is the block cache size in MiB.
	CacheMiB int

	// Handles caps the number of open table files.
	Handles int

	// ErrorIfExists fails Open when the database already exists.
	ErrorIfExists bool
}

const (
	DefaultCacheMiB = 16
	DefaultHandles  = 16
)

// Open opens the database at dbPath, creating it when missing.  A nil opts
// selects the defaults.
func Open(dbPath string, opts *Options) (*DB, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.CacheMiB <= 0 {
		o.CacheMiB = DefaultCacheMiB
	}
	if o.Handles <= 0 {
		o.Handles = DefaultHandles
	}

	cache := pebble.NewCache(int64(o.CacheMiB) << 20)
	defer cache.Unref()

	pdb, err := pebble.Open(dbPath, &pebble.Options{
		Cache:                    cache,
		ErrorIfExists:            o.ErrorIfExists,
		MaxOpenFiles:             o.Handles,
		MaxConcurrentCompactions: runtime.NumCPU,
		Levels: []pebble.LevelOptions{
			{FilterPolicy: bloom.FilterPolicy(10)},
		},
	})
	if err != nil {
		return nil, err
	}
	return &DB{pdb: pdb}, nil
}

// DB is a pebble database.
type DB struct {
	pdb    *pebble.DB
	closed atomic.Bool
}

func (db *DB) NewBatch() (engine.Batch, error) {
	if db.closed.Load() {
		return nil, ErrDbClosed
	}
	return &batch{b: db.pdb.NewBatch()}, nil
}

func (db *DB) NewSnapshot() (engine.Snapshot, error) {
	if db.closed.Load() {
		return nil, ErrDbClosed
	}
	return &snapshot{snap: db.pdb.NewSnapshot()}, nil
}

func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return ErrDbClosed
	}
	return db.pdb.Close()
}

type batch struct {
	b    *pebble.Batch
	done bool
}

func (b *batch) Put(key, value []byte) error {
	if b.done {
		return ErrBatchDone
	}
	return b.b.Set(key, value, nil)
}

func (b *batch) Delete(key []byte) error {
	if b.done {
		return ErrBatchDone
	}
	return b.b.Delete(key, nil)
}

func (b *batch) Commit() error {
	if b.done {
		return ErrBatchDone
	}
	b.done = true
	defer b.b.Close()
	return b.b.Commit(pebble.Sync)
}

func (b *batch) Discard() {
	if !b.done {
		b.done = true
		b.b.Close()
	}
}

type snapshot struct {
	snap     *pebble.Snapshot
	released bool
}

// Get returns a copy of the value since pebble only lends it until the
// closer is closed.
func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.released {
		return nil, ErrSnapshotReleased
	}
	val, closer, err := s.snap.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return append([]byte{}, val...), nil
}

func (s *snapshot) Has(key []byte) (bool, error) {
	_, err := s.Get(key)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (s *snapshot) NewIterator(r *engine.Range) engine.Iterator {
	if s.released {
		return engine.NewErrIterator(ErrSnapshotReleased)
	}
	iter, err := s.snap.NewIter(&pebble.IterOptions{
		LowerBound: r.Start,
		UpperBound: r.Limit,
	})
	if err != nil {
		return engine.NewErrIterator(err)
	}
	return &iterator{iter: iter}
}

func (s *snapshot) Release() {
	if !s.released {
		s.released = true
		s.snap.Close()
	}
}

// iterator makes a pebble iterator start before its first key.
type iterator struct {
	iter       *pebble.Iterator
	positioned bool
	released   bool
}

func (i *iterator) First() bool {
	if i.released {
		return false
	}
	i.positioned = true
	return i.iter.First()
}

func (i *iterator) Next() bool {
	switch {
	case i.released:
		return false
	case !i.positioned:
		return i.First()
	}
	return i.iter.Next()
}

func (i *iterator) Key() []byte {
	if i.released || !i.iter.Valid() {
		return nil
	}
	return i.iter.Key()
}

func (i *iterator) Value() []byte {
	if i.released || !i.iter.Valid() {
		return nil
	}
	return i.iter.Value()
}

func (i *iterator) Error() error {
	if i.released {
		return engine.ErrIterReleased
	}
	return i.iter.Error()
}

func (i *iterator) Release() {
	if !i.released {
		i.released = true
		i.iter.Close()
	}
}

func init() {
	driver := engine.Driver{
		DbType: dbType,
		Open: func(dbPath string) (engine.DB, error) {
			return Open(dbPath, nil)
		},
	}
	if err := engine.AddDriver(driver); err != nil {
		panic(fmt.Sprintf("Failed to register database driver '%s': %v",
			dbType, err))
	}
}
