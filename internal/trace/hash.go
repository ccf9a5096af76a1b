package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash returns the TraceHash of a canonical trace encoding:
// sha256 over the bytes, hex-encoded. The input must already be canonical
// (from ExecutionTrace.CanonicalJSON); hashing a non-canonical encoding
// gives a hash nothing else will ever reproduce.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}

// Digest returns the sha256 hex digest of captured output for embedding
// in trace events. Empty output digests to the empty string so the field
// is omitted from the encoding.
func Digest(output []byte) string {
	if len(output) == 0 {
		return ""
	}
	sum := sha256.Sum256(output)
	return hex.EncodeToString(sum[:])
}
