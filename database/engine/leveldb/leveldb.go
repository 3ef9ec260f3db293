// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package leveldb implements the "leveldb" database driver on top of
// goleveldb.
package leveldb

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/btcsuite/txrelay/database/engine"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const dbType = "leveldb"

var errBatchDone = errors.New("leveldb: batch already committed or discarded")

// Open opens the database at dbPath, creating it when missing.  With create
// set an existing database is an error.
func Open(dbPath string, create bool) (*DB, error) {
	ldb, err := leveldb.OpenFile(dbPath, &opt.Options{
		ErrorIfExist: create,
		Strict:       opt.DefaultStrict,
		Compression:  opt.NoCompression,
		Filter:       filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, err
	}
	return &DB{ldb: ldb}, nil
}

// DB is a goleveldb database.
type DB struct {
	ldb    *leveldb.DB
	closed atomic.Bool
}

// NewBatch returns a batch written with a synced write on Commit.
func (db *DB) NewBatch() (engine.Batch, error) {
	if db.closed.Load() {
		return nil, leveldb.ErrClosed
	}
	return &batch{ldb: db.ldb}, nil
}

func (db *DB) NewSnapshot() (engine.Snapshot, error) {
	snap, err := db.ldb.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &snapshot{snap: snap}, nil
}

func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return leveldb.ErrClosed
	}
	return db.ldb.Close()
}

type batch struct {
	ldb  *leveldb.DB
	b    leveldb.Batch
	done bool
}

func (b *batch) Put(key, value []byte) error {
	if b.done {
		return errBatchDone
	}
	b.b.Put(key, value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	if b.done {
		return errBatchDone
	}
	b.b.Delete(key)
	return nil
}

func (b *batch) Commit() error {
	if b.done {
		return errBatchDone
	}
	b.done = true
	return b.ldb.Write(&b.b, &opt.WriteOptions{Sync: true})
}

func (b *batch) Discard() {
	b.done = true
	b.b.Reset()
}

type snapshot struct {
	snap *leveldb.Snapshot
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	val, err := s.snap.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, engine.ErrNotFound
	}
	return val, err
}

func (s *snapshot) Has(key []byte) (bool, error) {
	return s.snap.Has(key, nil)
}

func (s *snapshot) NewIterator(r *engine.Range) engine.Iterator {
	return s.snap.NewIterator(&util.Range{Start: r.Start, Limit: r.Limit}, nil)
}

func (s *snapshot) Release() {
	s.snap.Release()
}

func init() {
	driver := engine.Driver{
		DbType: dbType,
		Open: func(dbPath string) (engine.DB, error) {
			return Open(dbPath, false)
		},
	}
	if err := engine.AddDriver(driver); err != nil {
		panic(fmt.Sprintf("Failed to register database driver '%s': %v",
			dbType, err))
	}
}
