package rsm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shrtyk/rsm-core/api"
	"github.com/shrtyk/rsm-core/internal/retry"
)

// snapshotRecord is a decoded snapshot awaiting application, held
// either as the deferred "last snapshot below snapshotSync" during
// SYNC_SNAPSHOT, or as the target of a deferred fast-forward while
// TAILING.
type snapshotRecord[T any] struct {
	header api.SnapshotHeader
	state  T
}

func (e *Engine[T, D]) openSnapshotReadStream(ctx context.Context) {
	go func() {
		tail, err := e.logClient.QueryTailLSN(ctx, e.cfg.SnapshotLogID)
		e.post(func() {
			if err != nil {
				e.log.Error("query snapshot log tail failed", api.ErrAttr(err))
				e.enterSyncDeltas(ctx)
				return
			}
			e.snapshotSync = tail
			e.startSnapshotReadStream(ctx)
		})
	}()
}

func (e *Engine[T, D]) startSnapshotReadStream(ctx context.Context) {
	streamID, err := e.logClient.OpenReadStream(
		ctx, e.cfg.SnapshotLogID, api.LSNOldest, e.snapshotSync,
		func(rec api.DeltaRecord) bool {
			return e.postSync(func() bool { return e.onSnapshotRecord(ctx, rec) })
		},
		func(gap api.Gap) bool {
			return e.postSync(func() bool { return e.onSnapshotGap(ctx, gap) })
		},
		func(healthy bool) {},
	)
	if err != nil {
		e.log.Error("open snapshot read stream failed", api.ErrAttr(err))
		e.enterSyncDeltas(ctx)
		return
	}
	e.snapshotStreamID = streamID
}

// onSnapshotRecord implements the deferred "last snapshot record"
// handling of spec §4.2: while still below snapshotSync, every record
// is decoded as it arrives and only the newest decodable one is kept.
// A gap reaching snapshotSync applies the kept snapshot; a record
// reaching snapshotSync drops it and is processed in its place.
func (e *Engine[T, D]) onSnapshotRecord(ctx context.Context, rec api.DeltaRecord) bool {
	if e.syncState == api.SyncSnapshot && rec.LSN < e.snapshotSync {
		e.bufferDeferredSnapshot(rec)
		return true
	}
	e.deferredSnapshot = nil
	e.decodeAndProcessSnapshot(ctx, rec)
	if e.syncState == api.SyncSnapshot {
		e.onBaseSnapshotRetrieved(ctx)
	}
	return true
}

func (e *Engine[T, D]) bufferDeferredSnapshot(rec api.DeltaRecord) {
	h, body, err := deserializeSnapshotBlob(rec.Payload)
	if err != nil {
		e.log.Warn("deferred snapshot record undecodable, skipping", api.ErrAttr(err))
		return
	}
	state, err := e.sm.DeserializeState(body)
	if err != nil {
		e.log.Warn("deferred snapshot state undecodable, skipping", api.ErrAttr(err))
		return
	}
	e.deferredSnapshot = &snapshotRecord[T]{header: h, state: state}
}

func (e *Engine[T, D]) decodeAndProcessSnapshot(ctx context.Context, rec api.DeltaRecord) {
	h, body, err := deserializeSnapshotBlob(rec.Payload)
	if err != nil {
		e.onSnapshotDecodeError(err)
		return
	}
	state, err := e.sm.DeserializeState(body)
	if err != nil {
		e.onSnapshotDecodeError(err)
		return
	}
	e.processSnapshot(ctx, h, state)
}

func (e *Engine[T, D]) onSnapshotDecodeError(err error) {
	if e.cfg.CanSkipBadSnapshot {
		e.log.Warn("snapshot decode failed, skipping", api.ErrAttr(err))
		return
	}
	e.log.Error("snapshot decode failed, stalling", api.ErrAttr(err))
}

// processSnapshot is the three-way branch of spec §4.2: forward apply,
// read-ptr-advance-only, or stale.
func (e *Engine[T, D]) processSnapshot(ctx context.Context, h api.SnapshotHeader, state T) {
	switch {
	case h.BaseVersion > e.version:
		e.forwardApplySnapshot(ctx, h, state)
	case h.BaseVersion == e.version && h.DeltaLogReadPtr > e.lastSnapshotLastReadPtr:
		e.advanceReadPtrOnly(h)
	default:
		e.log.Debug("discarding stale snapshot", slog.Uint64("base_version", uint64(h.BaseVersion)))
	}
}

func (e *Engine[T, D]) forwardApplySnapshot(ctx context.Context, h api.SnapshotHeader, state T) {
	if e.syncState == api.Tailing && e.waitingForSnapshot == api.LSNInvalid {
		if !e.canFastForward(h.BaseVersion) {
			e.deferredSnapshot = &snapshotRecord[T]{header: h, state: state}
			e.activateGracePeriodForFastForward(ctx, h.BaseVersion)
			return
		}
		e.cancelGracePeriodForFastForward()
	}
	e.applySnapshot(ctx, h, state)
}

// canFastForward returns true outside TAILING (initial replay always
// fast-forwards) or once the fast-forward grace period for this exact
// target has already elapsed.
func (e *Engine[T, D]) canFastForward(target api.LSN) bool {
	if e.syncState != api.Tailing {
		return true
	}
	if e.isGracePeriodForFastForwardActive() {
		return false
	}
	// A fired grace timer stays in place until cancelFastForwardGrace
	// clears it, so a non-nil timer with no pending grace means the
	// grace period for fastForwardTarget has elapsed.
	return e.fastForwardGraceTimer != nil && e.fastForwardTarget == target
}

func (e *Engine[T, D]) cancelGracePeriodForFastForward() {
	e.cancelFastForwardGrace()
}

func (e *Engine[T, D]) applySnapshot(ctx context.Context, h api.SnapshotHeader, state T) {
	e.data = state
	e.version = h.BaseVersion
	e.deltaLogOffset = h.Offset
	e.deltaLogByteOffset = h.ByteOffset
	e.pending.discardSkippedUpTo(e.version)
	e.finishSnapshotApplication(h)
	e.advertiseInMemory()
	if e.syncState == api.Tailing || e.cfg.DeliverWhileReplaying {
		e.notifyState(e.version)
	}
	if e.waitingForSnapshot != api.LSNInvalid &&
		(e.version >= e.waitingForSnapshot || e.lastSnapshotLastReadPtr >= e.waitingForSnapshot) {
		e.clearStall(ctx)
	}
}

func (e *Engine[T, D]) advanceReadPtrOnly(h api.SnapshotHeader) {
	e.finishSnapshotApplication(h)
	if e.waitingForSnapshot != api.LSNInvalid &&
		(e.version >= e.waitingForSnapshot || e.lastSnapshotLastReadPtr >= e.waitingForSnapshot) {
		e.clearStall(context.Background())
	}
}

func (e *Engine[T, D]) finishSnapshotApplication(h api.SnapshotHeader) {
	e.lastSnapshotVersion = h.BaseVersion
	if h.DeltaLogReadPtr > e.lastSnapshotLastReadPtr {
		e.lastSnapshotLastReadPtr = h.DeltaLogReadPtr
	}
	if h.ByteOffset > e.lastSnapshotByteOffset {
		e.lastSnapshotByteOffset = h.ByteOffset
	}
	if h.Offset > e.lastSnapshotOffset {
		e.lastSnapshotOffset = h.Offset
	}
}

func (e *Engine[T, D]) clearStall(ctx context.Context) {
	e.waitingForSnapshot = api.LSNInvalid
	e.cancelStallGrace()
	if e.deltaStreamID != "" {
		_ = e.logClient.Resume(ctx, e.deltaStreamID)
	}
}

func (e *Engine[T, D]) onSnapshotGap(ctx context.Context, gap api.Gap) bool {
	if e.syncState == api.SyncSnapshot && gap.Hi < e.snapshotSync {
		return true
	}
	if e.syncState == api.SyncSnapshot {
		if e.deferredSnapshot != nil {
			d := e.deferredSnapshot
			e.deferredSnapshot = nil
			e.processSnapshot(ctx, d.header, d.state)
		}
		e.onBaseSnapshotRetrieved(ctx)
	}
	return true
}

func (e *Engine[T, D]) onBaseSnapshotRetrieved(ctx context.Context) {
	if e.snapshotStreamID != "" {
		_ = e.logClient.CloseReadStream(ctx, e.snapshotStreamID)
		e.snapshotStreamID = ""
	}
	if e.deltaReadPtr == api.LSNInvalid {
		e.deltaReadPtr = e.lastSnapshotLastReadPtr
	}
	e.enterSyncDeltas(ctx)
}

// snapshotFetchDelayFunc returns the exponential backoff generator for
// store fetch retries: doubling from SnapshotFetchBackoffMin, capped at
// SnapshotFetchBackoffMax, per spec §4.2.
func (e *Engine[T, D]) snapshotFetchDelayFunc() retry.DelayFunc {
	min, max := e.cfg.SnapshotFetchBackoffMin, e.cfg.SnapshotFetchBackoffMax
	return func() func() time.Duration {
		delay := min
		return func() time.Duration {
			d := delay
			delay *= 2
			if delay > max {
				delay = max
			}
			return d
		}
	}
}

// errRetryableSnapshotStatus wraps a non-terminal GetSnapshot status so
// internal/retry.Do treats it as a failed attempt worth retrying.
type errRetryableSnapshotStatus struct{ status api.Status }

func (e errRetryableSnapshotStatus) Error() string {
	return fmt.Sprintf("snapshot store returned %s", e.status)
}

func (e *Engine[T, D]) fetchSnapshotFromStore(ctx context.Context) {
	minVersion := e.version
	if e.waitingForSnapshot > minVersion {
		minVersion = e.waitingForSnapshot
	}
	go e.fetchSnapshotFromStoreWithRetry(ctx, minVersion)
}

// fetchSnapshotFromStoreWithRetry retries GetSnapshot under exponential
// backoff until a terminal status (OK, UPTODATE, EMPTY) comes back or
// ctx is cancelled by Stop. STALE, NOTFOUND, FAILED, TIMEDOUT,
// INPROGRESS, TOOBIG, and transport errors are all retried.
func (e *Engine[T, D]) fetchSnapshotFromStoreWithRetry(ctx context.Context, minVersion api.LSN) {
	var status api.Status
	var blob []byte
	var attrs api.SnapshotAttrs

	err := retry.Do(ctx, func(ctx context.Context) error {
		var ferr error
		status, blob, attrs, ferr = e.snapshotStore.GetSnapshot(ctx, minVersion)
		if ferr != nil {
			return ferr
		}
		switch status {
		case api.OK, api.UPTODATE, api.EMPTY:
			return nil
		default:
			return errRetryableSnapshotStatus{status: status}
		}
	}, retry.WithMaxAttempts(math.MaxInt32), retry.WithDelayFunc(e.snapshotFetchDelayFunc()))

	e.post(func() {
		if err != nil {
			// Only ctx cancellation reaches here uncaught; the retry
			// loop itself never gives up on a retryable status.
			e.log.Warn("snapshot store fetch abandoned", api.ErrAttr(err))
			return
		}
		switch status {
		case api.OK:
			h, body, derr := deserializeSnapshotBlob(blob)
			if derr != nil {
				e.onSnapshotDecodeError(derr)
				e.onBaseSnapshotRetrieved(ctx)
				return
			}
			state, derr := e.sm.DeserializeState(body)
			if derr != nil {
				e.onSnapshotDecodeError(derr)
				e.onBaseSnapshotRetrieved(ctx)
				return
			}
			if h.BaseVersion == api.LSNInvalid {
				h.BaseVersion = attrs.BaseVersion
			}
			e.processSnapshot(ctx, h, state)
			e.onBaseSnapshotRetrieved(ctx)
		case api.UPTODATE, api.EMPTY:
			e.onBaseSnapshotRetrieved(ctx)
		}
	})
}
