// Package md5 fingerprints vacancy descriptions. The digest detects changed
// content between crawls and is not used for anything security relevant.
package md5

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
)

// Hasher implements vacancy.Hasher using MD5.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a lowercase hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) //nolint:gosec // see package doc
	return hex.EncodeToString(sum[:]), nil
}
