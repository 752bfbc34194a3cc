// Package storage is the key/value collaborator that persists session
// documents and the classification store as JSON text.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrQuotaExceeded is returned when a write would push the stored data past
// the configured quota. Nothing is written in that case.
var ErrQuotaExceeded = errors.New("limite de armazenamento excedido")

// Storage reads and writes whole values under fixed keys.
type Storage interface {
	// GetItem returns the value stored under key; ok is false when absent.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	// SetItem replaces the value stored under key.
	SetItem(ctx context.Context, key, value string) error
}

// DefaultQuotaBytes mirrors the usual per-origin browser storage limit.
const DefaultQuotaBytes = 5 << 20

// checkQuota validates a write of key=value against quota, given the bytes
// already used and the size of the value being replaced (0 when new).
func checkQuota(quota, used, replaced int64, key, value string) error {
	if quota <= 0 {
		return nil
	}
	next := used - replaced + itemSize(key, value)
	if next > quota {
		return fmt.Errorf("%w: %d de %d bytes", ErrQuotaExceeded, next, quota)
	}
	return nil
}

func itemSize(key, value string) int64 {
	return int64(len(key) + len(value))
}
