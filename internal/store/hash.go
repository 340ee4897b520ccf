// SPDX-License-Identifier: MPL-2.0

package store

import (
	"crypto/sha256"
	"encoding/base32"
	"io"
	"regexp"
)

const (
	// hashLen is the length of the hash part of a store path base name.
	hashLen = 32
	// hashBytes is the number of digest bytes encoded into the hash part.
	hashBytes = 20
)

var (
	storeEncoding = base32.NewEncoding("0123456789abcdfghijklmnpqrsvwxyz").WithPadding(base32.NoPadding)

	namePattern = regexp.MustCompile(`^[a-zA-Z0-9+_?=-][a-zA-Z0-9+._?=-]*$`)
	basePattern = regexp.MustCompile(`^[0-9a-z]{32}-[a-zA-Z0-9+._?=-]+$`)
)

// hashParts returns the store hash of the concatenated parts.
func hashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = io.WriteString(h, p)
		_, _ = h.Write([]byte{0})
	}
	return storeEncoding.EncodeToString(h.Sum(nil)[:hashBytes])
}

// hashDigest compresses a full digest into a store hash.
func hashDigest(sum []byte) string {
	return storeEncoding.EncodeToString(sum[:hashBytes])
}

// ValidName reports whether name may be used as the name part of a path.
func ValidName(name string) bool {
	return len(name) <= 211 && namePattern.MatchString(name)
}
