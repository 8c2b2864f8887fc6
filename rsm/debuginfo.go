package rsm

import (
	"context"

	"github.com/shrtyk/rsm-core/api"
)

// DebugInfo returns the debug-info tuple published by spec §6.
func (e *Engine[T, D]) DebugInfo(ctx context.Context) api.DebugInfo {
	result := make(chan api.DebugInfo, 1)
	e.post(func() {
		result <- api.DebugInfo{
			DeltaLogID:              e.cfg.DeltaLogID,
			SnapshotLogID:           e.cfg.SnapshotLogID,
			Version:                 e.version,
			DeltaReadPtr:            e.deltaReadPtr,
			DeltaSync:               e.deltaSync,
			SnapshotReaderNextLSN:   e.snapshotReaderNextLSN(),
			SnapshotSync:            e.snapshotSync,
			WaitingForSnapshot:      e.waitingForSnapshot,
			DeltaAppendsInFlight:    e.deltaAppendsInFlight,
			PendingConfirmations:    e.pending.len(),
			SnapshotInFlight:        e.snapshotInFlight,
			BytesSinceLastSnapshot:  e.deltaLogByteOffset,
			DeltasSinceLastSnapshot: e.deltaLogOffset,
			DeltaStreamHealthy:      e.deltaStreamHealthy,
		}
	})
	select {
	case v := <-result:
		return v
	case <-e.done:
		return api.DebugInfo{}
	}
}

func (e *Engine[T, D]) snapshotReaderNextLSN() api.LSN {
	if e.syncState != api.SyncSnapshot {
		return api.LSNInvalid
	}
	return e.lastSnapshotVersion + 1
}

// GetDeltaReadPtr implements the published get_delta_read_ptr accessor.
func (e *Engine[T, D]) GetDeltaReadPtr(ctx context.Context) api.LSN {
	result := make(chan api.LSN, 1)
	e.post(func() { result <- e.deltaReadPtr })
	select {
	case v := <-result:
		return v
	case <-e.done:
		return api.LSNInvalid
	}
}

// SubscribeVersions registers obs to be called whenever the engine
// advertises a new in-memory or durable version.
func (e *Engine[T, D]) SubscribeVersions(obs api.VersionsObserver) {
	e.post(func() { e.versionObservers = append(e.versionObservers, obs) })
}
