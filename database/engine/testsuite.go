// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// RunSuite exercises a driver.  open must return a new, empty database each
// time it is called.
func RunSuite(t *testing.T, open func(t *testing.T) DB) {
	t.Run("BatchVisibility", func(t *testing.T) {
		db := open(t)
		defer db.Close()

		key, value := []byte("ban:10.0.0.1"), []byte{0, 0, 0, 0, 0x65, 0x00, 0, 0}
		b, err := db.NewBatch()
		require.NoError(t, err)
		require.NoError(t, b.Put(key, value))

		// Uncommitted writes are invisible.
		err = View(db, func(snap Snapshot) error {
			has, err := snap.Has(key)
			require.NoError(t, err)
			require.False(t, has)

			got, err := snap.Get(key)
			require.ErrorIs(t, err, ErrNotFound)
			require.Nil(t, got)
			return nil
		})
		require.NoError(t, err)

		// A snapshot taken before the commit keeps its view.
		before, err := db.NewSnapshot()
		require.NoError(t, err)
		defer before.Release()

		require.NoError(t, b.Commit())

		_, err = before.Get(key)
		require.ErrorIs(t, err, ErrNotFound)

		err = View(db, func(snap Snapshot) error {
			got, err := snap.Get(key)
			require.NoError(t, err)
			require.Equal(t, value, got)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Ranges", func(t *testing.T) {
		tests := []struct {
			name string
			r    *Range
			want []string
		}{
			{
				name: "empty below",
				r:    &Range{Start: []byte("a"), Limit: []byte("ban:")},
				want: nil,
			},
			{
				name: "ban prefix",
				r:    PrefixRange([]byte("ban:")),
				want: []string{"ban:10.0.0.1", "ban:10.0.0.2"},
			},
			{
				name: "utxo prefix",
				r:    PrefixRange([]byte("u")),
				want: []string{"u\x01", "u\xff"},
			},
			{
				name: "half open",
				r:    &Range{Start: []byte("ban:10.0.0.1"), Limit: []byte("ban:10.0.0.2")},
				want: []string{"ban:10.0.0.1"},
			},
			{
				name: "unbounded",
				r:    &Range{Start: []byte("u")},
				want: []string{"u\x01", "u\xff", "v"},
			},
		}

		db := open(t)
		defer db.Close()

		err := Update(db, func(b Batch) error {
			for _, k := range []string{"v", "u\xff", "ban:10.0.0.2",
				"u\x01", "ban:10.0.0.1", "a"} {

				if err := b.Put([]byte(k), []byte("x")); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		for _, test := range tests {
			err := View(db, func(snap Snapshot) error {
				iter := snap.NewIterator(test.r)
				defer iter.Release()

				var got []string
				for iter.Next() {
					got = append(got, string(iter.Key()))
				}
				require.Equal(t, test.want, got, test.name)
				return iter.Error()
			})
			require.NoError(t, err, test.name)
		}
	})

	t.Run("ForEach", func(t *testing.T) {
		db := open(t)
		defer db.Close()

		err := Update(db, func(b Batch) error {
			for _, host := range []string{"10.0.0.2", "10.0.0.1", "::1"} {
				err := b.Put([]byte("ban:"+host), []byte(host))
				if err != nil {
					return err
				}
			}
			return b.Put([]byte("u\x00"), nil)
		})
		require.NoError(t, err)

		var hosts []string
		err = View(db, func(snap Snapshot) error {
			return ForEach(snap, []byte("ban:"), func(k, v []byte) error {
				require.Equal(t, string(k), string(v))
				hosts = append(hosts, string(k))
				return nil
			})
		})
		require.NoError(t, err)
		require.Equal(t, []string{"10.0.0.1", "10.0.0.2", "::1"}, hosts)

		errStop := errors.New("stop")
		var visited int
		err = View(db, func(snap Snapshot) error {
			return ForEach(snap, []byte("ban:"), func(k, v []byte) error {
				visited++
				return errStop
			})
		})
		require.ErrorIs(t, err, errStop)
		require.Equal(t, 1, visited)
	})

	t.Run("UpdateAbort", func(t *testing.T) {
		db := open(t)
		defer db.Close()

		key := []byte("ban:10.0.0.1")
		require.NoError(t, Update(db, func(b Batch) error {
			return b.Put(key, []byte{0x01})
		}))

		errAbort := errors.New("abort")
		err := Update(db, func(b Batch) error {
			if err := b.Delete(key); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		err = View(db, func(snap Snapshot) error {
			has, err := snap.Has(key)
			require.NoError(t, err)
			require.True(t, has, "aborted update removed the key")
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Close", func(t *testing.T) {
		db := open(t)

		b, err := db.NewBatch()
		require.NoError(t, err)
		b.Discard()
		b.Discard()
		require.Error(t, b.Commit(), "commit after discard")

		snap, err := db.NewSnapshot()
		require.NoError(t, err)
		iter := snap.NewIterator(&Range{})
		require.NoError(t, iter.Error())
		iter.Release()
		iter.Release()
		snap.Release()
		snap.Release()
		_, err = snap.Get([]byte("ban:10.0.0.1"))
		require.Error(t, err, "get on released snapshot")

		require.NoError(t, db.Close())
		require.Error(t, db.Close(), "second close")

		_, err = db.NewBatch()
		require.Error(t, err, "batch on closed db")
		_, err = db.NewSnapshot()
		require.Error(t, err, "snapshot on closed db")
	})
}
