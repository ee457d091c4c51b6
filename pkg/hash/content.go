package hash

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Content returns the hex BLAKE2b-256 digest of a document's content.
// Stored on the document record and compared during sync to skip
// pushes that would not change anything remotely.
func Content(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// UpdateKey derives a short stable key for a CRDT update, used to
// deduplicate entries in the persisted update log. Collisions across
// distinct updates of the same document are not a correctness problem
// (applying an update twice is a no-op) but would lose history, so the
// key keeps 16 digest bytes.
func UpdateKey(update []byte) string {
	sum := blake2b.Sum256(update)
	return hex.EncodeToString(sum[:16])
}
