package rsm

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shrtyk/rsm-core/api"
)

// onDeltaRecord implements spec §4.3. Returns false to back-pressure
// the read stream.
func (e *Engine[T, D]) onDeltaRecord(ctx context.Context, rec api.DeltaRecord) bool {
	if e.waitingForSnapshot != api.LSNInvalid {
		return false
	}

	e.deltaReadPtr = rec.LSN
	e.restartFastForwardGraceIfActive()

	if rec.LSN <= e.version || rec.LSN <= e.lastSnapshotLastReadPtr {
		return true
	}

	header, body := decodeDeltaHeader(rec.Payload)

	delta, decodeErr := e.sm.DecodeDelta(body)
	if decodeErr != nil {
		e.log.Warn("delta decode failed, skipping", slog.Uint64("lsn", uint64(rec.LSN)), api.ErrAttr(decodeErr))
		e.advanceDeltaOffsets(len(rec.Payload))
		e.fireConfirmation(header.UUID, api.BADMSG, rec.LSN, decodeErr.Error())
		return true
	}

	newState, applyErr := e.sm.ApplyDelta(delta, e.data, rec.LSN, rec.Timestamp.UnixNano())
	applied := applyErr == nil
	if applied {
		e.data = newState
		e.version = rec.LSN
		e.advertiseInMemory()
	} else {
		e.log.Warn("delta apply failed", slog.Uint64("lsn", uint64(rec.LSN)), api.ErrAttr(applyErr))
	}

	e.advanceDeltaOffsets(len(rec.Payload))

	if applyErr != nil {
		e.fireConfirmation(header.UUID, api.FAILED, rec.LSN, applyErr.Error())
	} else {
		e.fireConfirmation(header.UUID, api.OK, rec.LSN, "")
	}

	e.pending.discardSkippedUpTo(e.version)

	if applied && (e.syncState == api.Tailing || e.cfg.DeliverWhileReplaying) {
		e.notify(delta, rec.LSN)
	}

	if e.syncState == api.SyncDeltas && rec.LSN >= e.deltaSync {
		e.enterTailing(ctx)
	}

	return true
}

func (e *Engine[T, D]) advanceDeltaOffsets(payloadSize int) {
	e.deltaLogOffset++
	e.deltaLogByteOffset += uint64(payloadSize)
}

func (e *Engine[T, D]) fireConfirmation(id uuid.UUID, status api.Status, lsn api.LSN, reason string) {
	if id == uuid.Nil {
		return
	}
	entry, ok := e.pending.get(id)
	if !ok {
		return
	}
	if e.deliveryBlocked {
		return
	}
	entry.callback(status, lsn, reason)
	e.pending.remove(id)
}

// onDeltaGap implements spec §4.3's gap handling.
func (e *Engine[T, D]) onDeltaGap(ctx context.Context, gap api.Gap) bool {
	if e.waitingForSnapshot != api.LSNInvalid {
		return false
	}

	e.deltaReadPtr = gap.Hi
	e.restartFastForwardGraceIfActive()

	if gap.Hi <= e.version || gap.Hi <= e.lastSnapshotLastReadPtr {
		return true
	}

	if e.cfg.SnapshotLogID == "" && e.snapshotStore == nil {
		if gap.Type == api.GapTrim {
			e.log.Warn("delta log TRIM gap with no snapshot configured, resetting state", slog.Uint64("hi", uint64(gap.Hi)))
			e.data, _ = e.sm.MakeDefault()
			e.version = gap.Hi
			e.advertiseInMemory()
			e.notifyState(gap.Hi)
		} else {
			e.log.Error("delta log DATALOSS gap with no snapshot configured", slog.Uint64("lo", uint64(gap.Lo)), slog.Uint64("hi", uint64(gap.Hi)))
		}
		if e.syncState == api.SyncDeltas && gap.Hi >= e.deltaSync {
			e.enterTailing(ctx)
		}
		return true
	}

	skippingData := (gap.Type == api.GapDataloss && e.cfg.StallIfDataLoss) ||
		(gap.Type == api.GapTrim && e.version != api.LSNOldest)

	if skippingData {
		e.log.Warn("delta gap forces stall pending snapshot", slog.String("gap", gap.Type.String()), slog.Uint64("hi", uint64(gap.Hi)))
		e.waitingForSnapshot = gap.Hi
		e.activateStallGracePeriod()
		e.requestSnapshotFetch(ctx)
		return false
	}

	if e.syncState == api.SyncDeltas && gap.Hi >= e.deltaSync {
		e.enterTailing(ctx)
	}
	return true
}

func (e *Engine[T, D]) restartFastForwardGraceIfActive() {
	if e.fastForwardGraceTimer == nil {
		return
	}
	e.fastForwardGraceTimer.Reset(e.cfg.FastForwardGracePeriod)
}

func (e *Engine[T, D]) requestSnapshotFetch(ctx context.Context) {
	if e.snapshotStore != nil {
		e.fetchSnapshotFromStore(ctx)
		return
	}
	e.openSnapshotReadStream(ctx)
}
