package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives a stable, deterministic node ID from source-native
// identifiers (I6): re-running discovery against an unchanged source must
// reproduce the same ID, so the hash is over a normalized, ordered join of
// the caller-supplied parts — never a random value and never wall-clock
// dependent. Grounded in the teacher's
// enrichment.GenerateServiceFingerprint (internal/enrichment/cpe.go),
// generalized here into the one fingerprint function every node variant's
// NaturalKey() funnels through.
func Fingerprint(label Label, tenant TenantID, parts ...string) string {
	normalized := make([]string, 0, len(parts)+2)
	normalized = append(normalized, string(label), string(tenant))
	for _, p := range parts {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(p)))
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(sum[:])
}
