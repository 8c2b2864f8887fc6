package rsm

import (
	"context"
	"log/slog"

	"github.com/shrtyk/rsm-core/api"
)

// enterSyncSnapshot is the SYNC_SNAPSHOT entry point (spec §4.1). If no
// snapshot log/store is configured at all, it transitions immediately
// to SYNC_DELTAS with default state.
func (e *Engine[T, D]) enterSyncSnapshot(ctx context.Context) {
	e.syncState = api.SyncSnapshot
	if e.cfg.SnapshotLogID == "" && e.snapshotStore == nil {
		e.log.Info("no snapshot log or store configured, skipping SYNC_SNAPSHOT")
		e.enterSyncDeltas(ctx)
		return
	}
	if e.snapshotStore != nil {
		e.fetchSnapshotFromStore(ctx)
		return
	}
	e.openSnapshotReadStream(ctx)
}

// enterSyncDeltas is the SYNC_DELTAS entry point (spec §4.1).
func (e *Engine[T, D]) enterSyncDeltas(ctx context.Context) {
	e.syncState = api.SyncDeltas
	e.log.Info("entering SYNC_DELTAS", slog.Int64("version", int64(e.version)))

	go func() {
		tail, err := e.logClient.QueryTailLSN(ctx, e.cfg.DeltaLogID)
		e.post(func() {
			if err != nil {
				e.log.Error("query delta log tail failed", api.ErrAttr(err))
				e.deltaSync = e.version
			} else {
				e.deltaSync = tail
			}
			e.openDeltaReadStream(ctx)
		})
	}()
}

func (e *Engine[T, D]) openDeltaReadStream(ctx context.Context) {
	start := e.version
	if e.lastSnapshotLastReadPtr > start {
		start = e.lastSnapshotLastReadPtr
	}
	start++

	until := api.LSNMax
	if e.cfg.StopAtTail {
		until = e.deltaSync
	}

	streamID, err := e.logClient.OpenReadStream(
		ctx, e.cfg.DeltaLogID, start, until,
		func(rec api.DeltaRecord) bool {
			return e.postSync(func() bool { return e.onDeltaRecord(ctx, rec) })
		},
		func(gap api.Gap) bool {
			return e.postSync(func() bool { return e.onDeltaGap(ctx, gap) })
		},
		func(healthy bool) {
			e.post(func() { e.onDeltaStreamHealthChange(ctx, healthy) })
		},
	)
	if err != nil {
		e.log.Error("open delta read stream failed", api.ErrAttr(err))
		return
	}
	e.deltaStreamID = streamID
	e.deltaStreamHealthy = true

	if e.version >= e.deltaSync || e.deltaReadPtr >= e.deltaSync {
		e.enterTailing(ctx)
	}
}

func (e *Engine[T, D]) enterTailing(ctx context.Context) {
	if e.syncState == api.Tailing {
		return
	}
	e.syncState = api.Tailing
	e.log.Info("entering TAILING", slog.Int64("version", int64(e.version)))
	e.activateSnapshottingTimer(ctx)
	e.notifyInitialState()
}

// onDeltaStreamHealthChange implements the one permitted
// TAILING -> SYNC_DELTAS back-transition on recovery from an unhealthy
// read stream, to catch deltas missed during the unhealthy window.
func (e *Engine[T, D]) onDeltaStreamHealthChange(ctx context.Context, healthy bool) {
	wasHealthy := e.deltaStreamHealthy
	e.deltaStreamHealthy = healthy
	if healthy && !wasHealthy && e.syncState == api.Tailing {
		e.log.Warn("delta read stream recovered, resyncing")
		if e.deltaStreamID != "" {
			_ = e.logClient.CloseReadStream(ctx, e.deltaStreamID)
			e.deltaStreamID = ""
		}
		e.enterSyncDeltas(ctx)
	}
}
