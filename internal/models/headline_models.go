package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// Headline is the exact title text of one input row. It doubles as the
// result key, so it is never normalized after being read.
type Headline string

// ID is a stable hex digest of the headline, used wherever a store needs a
// bounded-length key.
func (h Headline) ID() string {
	hash := sha256.Sum256([]byte(h))
	return hex.EncodeToString(hash[:])
}
