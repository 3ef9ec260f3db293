// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version houses the version information for txrelayd.
package version

import (
	"fmt"
	"strings"
)

const (
	// semanticAlphabet defines the allowed characters for the pre-release
	// portion of a semantic version string.
	semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

	// semanticBuildAlphabet defines the allowed characters for the build
	// portion of a semantic version string.
	semanticBuildAlphabet = semanticAlphabet + "."
)

// These constants define the application version and follow the semantic
// versioning 2.0.0 spec (http://semver.org/).
const (
	Major uint = 0
	Minor uint = 1
	Patch uint = 0
)

var (
	// PreRelease may be overridden at build time with
	// '-ldflags "-X github.com/btcsuite/txrelay/internal/version.PreRelease=foo"'.
	// Characters outside semanticAlphabet are dropped.
	PreRelease = "beta"

	// BuildMetadata may be overridden at build time with
	// '-ldflags "-X github.com/btcsuite/txrelay/internal/version.BuildMetadata=foo"'.
	// Characters outside semanticBuildAlphabet are dropped.
	BuildMetadata = "dev"
)

// String returns the application version as a properly formed string per the
// semantic versioning 2.0.0 spec (http://semver.org/).
func String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", Major, Minor, Patch)
	if preRelease := NormalizePreRelString(PreRelease); preRelease != "" {
		b.WriteString("-" + preRelease)
	}
	if build := NormalizeBuildString(BuildMetadata); build != "" {
		b.WriteString("+" + build)
	}
	return b.String()
}

// UserAgent returns the user agent advertised by the named application, for
// example /txrelayd:0.1.0-beta+dev/.
func UserAgent(name string) string {
	return fmt.Sprintf("/%s:%s/", name, String())
}

// keepRunes returns str with every rune not in alphabet removed.
func keepRunes(str, alphabet string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(alphabet, r) {
			return r
		}
		return -1
	}, str)
}

// NormalizePreRelString returns str stripped of all characters not allowed in
// a pre-release string.
func NormalizePreRelString(str string) string {
	return keepRunes(str, semanticAlphabet)
}

// NormalizeBuildString returns str stripped of all characters not allowed in
// build metadata.
func NormalizeBuildString(str string) string {
	return keepRunes(str, semanticBuildAlphabet)
}
