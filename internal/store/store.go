// Package store is the relay's single persisted key-value store: the
// credential token, the organisation identity that came with it, and the
// last submitted form values. Values are JSON documents; the store has no
// schema versioning and no transactional isolation (last writer wins).
//
// Three backends are provided: FileStore (per-user JSON file, the default),
// DynamoStore (a shared DynamoDB table, one partition per namespace) and
// MemoryStore (tests and throwaway sessions).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Persisted keys.
const (
	KeyToken     = "persistedToken"
	KeyFormValue = "savedFormValue"
	KeyCloudName = "savedCloudName"
	KeyOrgID     = "savedOrgId"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("store: key not found")

// Store persists JSON values by key. Implementations are safe for
// concurrent use. Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
}

// GetJSON reads key and unmarshals it into T. found is false (with a nil
// error) when the key is absent or holds JSON null.
func GetJSON[T any](ctx context.Context, s Store, key string) (value T, found bool, err error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return value, false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return value, true, nil
}

// SetJSON marshals value and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
