package storage

import (
	"context"
	"time"
)

// NoopStateStore hands out a fixed checkpoint and never persists one.
// Used for dry runs and explicit --since runs.
type NoopStateStore struct {
	since time.Time
}

// NewNoopStateStore creates a new NoopStateStore reporting since for every kind.
func NewNoopStateStore(since time.Time) *NoopStateStore {
	return &NoopStateStore{since: since}
}

// LastSyncTime returns the configured time.
func (s *NoopStateStore) LastSyncTime(_ context.Context, _ string) (time.Time, error) {
	return s.since, nil
}

// SetLastSyncTime does nothing.
func (s *NoopStateStore) SetLastSyncTime(_ context.Context, _ string, _ time.Time) error {
	return nil
}
