// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build !unix

package limits

// SetLimits is a no-op on platforms without file descriptor limits.
func SetLimits() error {
	return nil
}
