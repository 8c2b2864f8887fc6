// Package snapshotstore provides reference implementations of
// api.SnapshotStore.
package snapshotstore

import (
	"context"
	"sync"

	"github.com/shrtyk/rsm-core/api"
)

// Memory is an in-memory api.SnapshotStore for tests. It is always
// writable and keeps only the newest snapshot.
type Memory struct {
	mu      sync.Mutex
	version api.LSN
	blob    []byte
	hasAny  bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) GetSnapshot(ctx context.Context, minVersion api.LSN) (api.Status, []byte, api.SnapshotAttrs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasAny {
		return api.EMPTY, nil, api.SnapshotAttrs{}, nil
	}
	if s.version < minVersion {
		return api.STALE, nil, api.SnapshotAttrs{}, nil
	}
	return api.OK, s.blob, api.SnapshotAttrs{BaseVersion: s.version}, nil
}

func (s *Memory) WriteSnapshot(ctx context.Context, version api.LSN, blob []byte) (api.Status, api.LSN, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasAny && version <= s.version {
		return api.UPTODATE, 0, nil
	}
	s.version = version
	s.blob = blob
	s.hasAny = true
	return api.OK, 0, nil
}

func (s *Memory) GetDurableVersion(ctx context.Context) (api.LSN, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasAny {
		return api.LSNInvalid, nil
	}
	return s.version, nil
}

func (s *Memory) IsWritable() bool {
	return true
}
