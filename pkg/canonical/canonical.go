// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the SHA-256 digests derived from it. Every digest
// recorded by covenant — intent digests, decision digests, audit chain
// links — is computed over the canonical form so that independently
// reconstructed records hash identically.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON returns the RFC 8785 canonical JSON encoding of v.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Digest returns the hex SHA-256 of the canonical JSON encoding of v.
func Digest(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return DigestBytes(b), nil
}

// DigestBytes returns the hex SHA-256 of raw bytes.
func DigestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DecisionDigest binds an executed action to the citation and confidence
// that justified it. The triple is hashed as a canonical JSON object so
// the digest is reproducible from the audit record alone.
func DecisionDigest(action, citation string, confidence int) string {
	b, err := JSON(map[string]any{
		"action":     action,
		"citation":   citation,
		"confidence": confidence,
	})
	if err != nil {
		// The input is three scalars; canonicalization cannot fail on it.
		return ""
	}
	return DigestBytes(b)
}
