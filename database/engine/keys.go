// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package engine

// Range is the key interval [Start, Limit).  A nil Limit is unbounded.
type Range struct {
	Start []byte
	Limit []byte
}

// PrefixRange returns the range holding every key that starts with prefix.
func PrefixRange(prefix []byte) *Range {
	var limit []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] < 0xff {
			limit = make([]byte, i+1)
			copy(limit, prefix)
			limit[i]++
			break
		}
	}
	return &Range{Start: prefix, Limit: limit}
}

// ForEach calls fn with every key under prefix, prefix removed, in ascending
// order.  Iteration stops at the first error fn returns.  The slices passed to
// fn must not be retained.
func ForEach(snap Snapshot, prefix []byte, fn func(key, value []byte) error) error {
	iter := snap.NewIterator(PrefixRange(prefix))
	defer iter.Release()

	for iter.Next() {
		if err := fn(iter.Key()[len(prefix):], iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// errIterator is an exhausted iterator reporting err.
type errIterator struct {
	err error
}

func (i errIterator) First() bool   { return false }
func (i errIterator) Next() bool    { return false }
func (i errIterator) Error() error  { return i.err }
func (i errIterator) Key() []byte   { return nil }
func (i errIterator) Value() []byte { return nil }
func (i errIterator) Release()      {}

// NewErrIterator returns an iterator that yields nothing and reports err.
func NewErrIterator(err error) Iterator {
	return errIterator{err: err}
}
