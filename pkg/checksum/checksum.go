// Package checksum computes the short content digest used throughout the
// sync engine for quick equality checks between local and server file
// state. The server's full hashing algorithm is opaque; SHA-256 truncated
// to 16 hex characters is the observed convention and is reproduced here.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// Length is the number of hex characters in a checksum.
const Length = 16

// Bytes returns the checksum of data.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])[:Length]
}

// Reader streams r through SHA-256 without buffering the whole content in
// memory, for use on upload files that may approach the 10 MiB limit.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil))[:Length], nil
}
