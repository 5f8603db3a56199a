package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aethelgard/qualitycheck/internal/domain"
)

// Entry is a stored result together with the fingerprint of the request
// that produced it.
type Entry struct {
	Fingerprint    string          `json:"fingerprint"`
	Payload        json.RawMessage `json:"payload"`
	StoredAtUnixMs int64           `json:"stored_at_ms"`
}

// Store persists entries for at least their TTL. PutIfAbsent must be atomic:
// of several concurrent writers for one key exactly one stores its entry and
// all of them receive that stored entry back.
type Store interface {
	// Get returns the live entry for key, if any.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// PutIfAbsent stores entry unless key already holds a live entry. It
	// returns the entry held after the call and whether it was this one.
	PutIfAbsent(ctx context.Context, key string, entry Entry) (Entry, bool, error)
}

// Outcome reports how Do produced its result.
type Outcome int

// Outcome values.
const (
	// Computed means this call ran compute and its result was stored.
	Computed Outcome = iota
	// Replayed means a stored result was returned.
	Replayed
	// Unstored means compute ran but the store could not be used.
	Unstored
)

// Do returns the stored result for key or computes, stores and returns a
// new one. Results always come back decoded from their stored bytes so a
// first call and its replays serialize identically. Errors from compute
// are not stored. A store failure degrades to computing without
// deduplication.
func Do[T any](
	ctx context.Context,
	store Store,
	key, fingerprint string,
	compute func(context.Context) (T, error),
) (T, Outcome, error) {
	var zero T
	logger := slog.Default().With("component", "idempotency")

	entry, found, err := store.Get(ctx, key)
	switch {
	case err != nil:
		logger.WarnContext(ctx, "idempotency lookup failed, continuing without deduplication",
			"key", key, "error", err)
		result, err := compute(ctx)
		return result, Unstored, err
	case found:
		result, err := decodeEntry[T](key, fingerprint, entry)
		if err != nil {
			return zero, Replayed, err
		}
		return result, Replayed, nil
	}

	result, err := compute(ctx)
	if err != nil {
		return zero, Computed, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return zero, Computed, fmt.Errorf("failed to encode result for storage: %w", err)
	}
	mine := Entry{Fingerprint: fingerprint, Payload: payload, StoredAtUnixMs: time.Now().UnixMilli()}

	winner, stored, err := store.PutIfAbsent(ctx, key, mine)
	if err != nil {
		logger.WarnContext(ctx, "idempotency store failed, result not retained", "key", key, "error", err)
		winner, stored = mine, true
	}

	outcome := Computed
	switch {
	case err != nil:
		outcome = Unstored
	case !stored:
		outcome = Replayed
		logger.InfoContext(ctx, "lost idempotency race, returning stored result", "key", key)
	}

	decoded, err := decodeEntry[T](key, fingerprint, winner)
	if err != nil {
		return zero, outcome, err
	}
	return decoded, outcome, nil
}

func decodeEntry[T any](key, fingerprint string, e Entry) (T, error) {
	var out T
	if e.Fingerprint != fingerprint {
		return out, fmt.Errorf("%w: key %q", domain.ErrIdempotencyConflict, key)
	}
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, fmt.Errorf("failed to decode stored result for %q: %w", key, err)
	}
	return out, nil
}
