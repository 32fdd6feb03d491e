package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// IdempotencyGate makes a single-shot action safe against retransmission
// under a client-supplied key: the first execution's serialized result is
// stored, and every later execution under the same key replays it without
// invoking the action again.
type IdempotencyGate struct {
	repo Repository
}

func NewIdempotencyGate(repo Repository) *IdempotencyGate {
	return &IdempotencyGate{repo: repo}
}

// Execute runs action at most once per non-blank key. A blank key disables
// tracking and executes the action directly. Encode/decode failures of the
// stored payload surface as *SerializationError, never as an action error.
func Execute[T any](ctx context.Context, g *IdempotencyGate, key string, action func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if strings.TrimSpace(key) == "" {
		return action(ctx)
	}

	rec, err := g.repo.GetIdempotencyRecord(ctx, key)
	if err != nil && !IsNotFound(err) {
		return zero, fmt.Errorf("load idempotency record: %w", err)
	}
	if rec != nil {
		return decodePayload[T](rec.Response)
	}

	result, err := action(ctx)
	if err != nil {
		return zero, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return zero, &SerializationError{Op: "encode", Err: err}
	}

	saved, err := g.repo.SaveIdempotencyRecord(ctx, key, payload)
	if err != nil {
		return zero, fmt.Errorf("save idempotency record: %w", err)
	}

	// A concurrent first call may have stored its payload between our lookup
	// and insert; the unique key constraint makes that record canonical, so
	// return what the store kept.
	if !bytes.Equal(saved.Response, payload) {
		return decodePayload[T](saved.Response)
	}

	return result, nil
}

func decodePayload[T any](payload []byte) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, &SerializationError{Op: "decode", Err: err}
	}
	return out, nil
}
