package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// casAttempts bounds UpdateJSON retries on revision conflicts.
const casAttempts = 5

// ErrConflict is returned by UpdateJSON when the key kept changing under it.
var ErrConflict = errors.New("kv: revision conflict")

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// IsExists reports whether err means Create found the key already present.
func IsExists(err error) bool {
	return errors.Is(err, jetstream.ErrKeyExists)
}

// Store provides typed access to a NATS KV bucket.
type Store struct {
	kv jetstream.KeyValue
}

// NewStore wraps a NATS KV bucket.
func NewStore(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get retrieves a value and its revision.
func (s *Store) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

// Create stores a value at key only if it doesn't already exist.
// Returns jetstream.ErrKeyExists if the key already exists.
func (s *Store) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return s.kv.Create(ctx, key, value)
}

// Update stores a value at key only if the revision matches.
func (s *Store) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return s.kv.Update(ctx, key, value, revision)
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// Keys returns all live keys in the bucket.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		// An empty bucket is reported as an error
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

// GetJSON retrieves and unmarshals a JSON value.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (uint64, error) {
	data, rev, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return 0, fmt.Errorf("unmarshal key %s: %w", key, err)
	}
	return rev, nil
}

// UpdateJSON performs a compare-and-swap update of an existing JSON value.
// mutate receives a freshly decoded value on every attempt and may abort the
// update by returning an error. A missing key is returned as-is (see
// IsNotFound); exhausting the retries returns ErrConflict.
func UpdateJSON[T any](ctx context.Context, s *Store, key string, mutate func(*T) error) (*T, error) {
	for i := 0; i < casAttempts; i++ {
		target := new(T)
		rev, err := s.GetJSON(ctx, key, target)
		if err != nil {
			return nil, err
		}
		if err := mutate(target); err != nil {
			return nil, err
		}
		data, err := json.Marshal(target)
		if err != nil {
			return nil, fmt.Errorf("marshal key %s: %w", key, err)
		}
		if _, err := s.Update(ctx, key, data, rev); err == nil {
			return target, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Revision moved underneath us, reload and retry
	}
	return nil, fmt.Errorf("update key %s: %w", key, ErrConflict)
}
