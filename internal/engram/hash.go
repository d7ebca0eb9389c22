package engram

import (
	"encoding/hex"
	"encoding/json"

	"lukechampine.com/blake3"
)

// Address is the content address of a serialized Document: hex-encoded
// BLAKE3-256 digest of its canonical JSON bytes (spec §4.2, I7/P5).
type Address string

// canonicalBytes serializes doc deterministically. encoding/json already
// sorts map keys and preserves struct field declaration order, so a plain
// Marshal is canonical here — no custom canonicalization library is
// needed or available anywhere in the retrieved examples.
func canonicalBytes(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

// addressOf hashes the canonical bytes with BLAKE3-256, matching the
// teacher's sha256-based fingerprinting idiom (internal/domain) but using
// BLAKE3 per spec §4.2's storage contract.
func addressOf(b []byte) Address {
	sum := blake3.Sum256(b)
	return Address(hex.EncodeToString(sum[:]))
}

func unmarshalCanonical(b []byte, doc *Document) error {
	return json.Unmarshal(b, doc)
}
