// Package idempotency stores validation results under caller-supplied keys
// so a repeated request returns the first stored result. Entries carry a
// fingerprint of the request that produced them; reusing a key with a
// different request is rejected.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

// DefaultTTL is how long results stay retrievable.
const DefaultTTL = 24 * time.Hour

// Key length limits.
const (
	MinKeyLength = 8
	MaxKeyLength = 256
)

// FingerprintVersion is mixed into every fingerprint. Bump it when the
// canonical form changes so old entries stop matching.
const FingerprintVersion = "v1"

// Scope separates single-item and batch keys.
type Scope string

// Scope values.
const (
	ScopeItem  Scope = "item"
	ScopeBatch Scope = "batch"
)

// ValidateKey checks a caller-supplied key: 8 to 256 printable ASCII
// characters without whitespace.
func ValidateKey(key string) error {
	if n := len(key); n < MinKeyLength || n > MaxKeyLength {
		return fmt.Errorf("%w: length %d outside [%d,%d]",
			domain.ErrInvalidIdempotencyKey, n, MinKeyLength, MaxKeyLength)
	}
	for i := 0; i < len(key); i++ {
		if c := key[i]; c <= ' ' || c > '~' {
			return fmt.Errorf("%w: invalid character at position %d", domain.ErrInvalidIdempotencyKey, i)
		}
	}
	return nil
}

// StorageKey namespaces a caller key by scope.
func StorageKey(scope Scope, key string) string {
	return fmt.Sprintf("qc:idem:%s:%s", scope, key)
}

// Fingerprint returns the SHA-256 hex digest of the canonical JSON of v.
// Map keys are sorted so equivalent payloads hash identically.
func Fingerprint(v any) (string, error) {
	body, err := stableJSON(struct {
		Version string `json:"version"`
		Payload any    `json:"payload"`
	}{FingerprintVersion, v})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// stableJSON marshals v and re-marshals it through generic values. Struct
// fields become map keys on the way, and encoding/json writes map keys in
// sorted order, so field declaration order does not affect the digest.
func stableJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
