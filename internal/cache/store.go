package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by Store.Read for absent keys.
var ErrNotFound = errors.New("cache entry not found")

// Store persists serialized entries by key. Keys are the hex sha256 values
// produced by Key; every implementation rejects anything else. Keys are
// independent: operations on different keys never coordinate, and concurrent
// writes to one key resolve as last writer wins.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

var keyPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// validateKey rejects anything that is not a hex sha256, which also keeps
// file-backed keys from escaping their directory.
func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid cache key %q", key)
	}
	return nil
}

// clearStore deletes every key in s, continuing past individual failures.
func clearStore(ctx context.Context, s Store) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list cache keys: %w", err)
	}
	var errs []error
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
