// Package kv is the key-value persistence medium behind a ledger. Stores are
// namespaced per user and may enforce a byte quota the way browser local
// storage does.
package kv

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("kv: key not found")
	ErrQuotaExceeded = errors.New("kv: storage quota exceeded")
)

// Store is a single-writer string key-value store.
type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) (string, error)
	// SetMany writes all pairs or none. It returns ErrQuotaExceeded when the
	// namespace would grow past its quota.
	SetMany(ctx context.Context, pairs map[string]string) error
	Delete(ctx context.Context, key string) error
}

// Set writes a single pair.
func Set(ctx context.Context, s Store, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// usage is the accounted size of one pair.
func usage(key, value string) int64 {
	return int64(len(key) + len(value))
}
