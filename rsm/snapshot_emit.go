package rsm

import (
	"context"
	"log/slog"

	"github.com/shrtyk/rsm-core/api"
)

// Snapshot triggers an on-demand snapshot emission, implementing spec
// §4.4. cb is invoked with the result; UPTODATE is a successful no-op.
func (e *Engine[T, D]) Snapshot(ctx context.Context, cb func(api.Status, error)) {
	e.post(func() { e.maybeEmitSnapshot(ctx, cb) })
}

func (e *Engine[T, D]) maybeEmitSnapshot(ctx context.Context, cb func(api.Status, error)) {
	call := func(status api.Status, err error) {
		if cb != nil {
			cb(status, err)
		}
	}

	if e.cfg.SnapshotLogID == "" && e.snapshotStore == nil {
		call(api.NOTSUPPORTED, nil)
		return
	}
	if e.syncState != api.Tailing {
		call(api.AGAIN, nil)
		return
	}
	if e.snapshotInFlight {
		call(api.INPROGRESS, nil)
		return
	}
	if e.cfg.IncludeReadPointerInSnapshot && e.deltaReadPtr < e.version {
		e.log.Error("snapshot precondition violated: delta read ptr behind version",
			slog.Uint64("read_ptr", uint64(e.deltaReadPtr)), slog.Uint64("version", uint64(e.version)))
		call(api.FAILED, nil)
		return
	}
	if !e.isElectedSnapshotter(ctx) {
		call(api.AGAIN, nil)
		return
	}

	upToDate := e.snapshotStore != nil &&
		e.version <= e.lastWrittenVersion &&
		(!e.cfg.IncludeReadPointerInSnapshot || e.lastSnapshotLastReadPtr >= e.deltaReadPtr)
	if upToDate {
		call(api.UPTODATE, nil)
		return
	}

	e.snapshotInFlight = true
	version := e.version
	readPtr := e.deltaReadPtr
	byteOffset := e.deltaLogByteOffset
	offset := e.deltaLogOffset

	state, err := e.sm.SerializeState(e.data)
	if err != nil {
		e.snapshotInFlight = false
		e.advertiseDurable(api.LSNInvalid)
		call(api.FAILED, err)
		return
	}

	payload := createSnapshotPayload(state, byteOffset, offset, version, readPtr, e.cfg.CompressSnapshots)

	go e.publishSnapshot(ctx, version, readPtr, byteOffset+uint64(len(payload)), offset+1, payload, call)
}

func (e *Engine[T, D]) publishSnapshot(
	ctx context.Context,
	version, readPtr api.LSN,
	byteOffset, offset uint64,
	payload []byte,
	call func(api.Status, error),
) {
	var status api.Status
	var err error

	if e.snapshotStore != nil {
		status, _, err = e.snapshotStore.WriteSnapshot(ctx, version, payload)
	} else {
		_, err = e.logClient.Append(ctx, e.cfg.SnapshotLogID, payload, false)
		if err == nil {
			status = api.OK
		}
	}

	e.post(func() {
		e.snapshotInFlight = false
		if err != nil || (status != api.OK && status != api.UPTODATE) {
			e.advertiseDurable(api.LSNInvalid)
			if err == nil {
				err = api.NewStatusError(status, "snapshot write failed", nil)
			}
			call(status, err)
			return
		}
		e.lastWrittenVersion = version
		e.advertiseDurable(version)
		if byteOffset > e.lastSnapshotByteOffset {
			e.lastSnapshotByteOffset = byteOffset
		}
		if offset > e.lastSnapshotOffset {
			e.lastSnapshotOffset = offset
		}
		e.lastSnapshotLastReadPtr = readPtr
		e.lastSnapshotVersion = version
		call(status, nil)
	})
}

// isElectedSnapshotter implements spec §4.4's precondition (b): the
// snapshot store must be writable, or this node must be first-alive
// per cluster state.
func (e *Engine[T, D]) isElectedSnapshotter(ctx context.Context) bool {
	if e.snapshotStore != nil && e.snapshotStore.IsWritable() {
		return true
	}
	if e.clusterState == nil {
		return true
	}
	first, ok, err := e.clusterState.FirstAliveNodeIndex(ctx)
	if err != nil || !ok {
		return false
	}
	return first == e.clusterState.MyNodeIndex()
}
