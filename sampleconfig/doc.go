// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package sampleconfig provides a single constant that contains the contents of
the sample configuration file for txrelayd.  The daemon writes it out as its
default configuration file on first start so users find every option, with its
default, documented in place.
*/
package sampleconfig
