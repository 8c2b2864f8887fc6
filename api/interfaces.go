package api

import "context"

// LogClient is the distributed log service the engine tails deltas
// and snapshots from. Implementations live outside this module
// (pkg/logstore ships reference ones); the engine only ever calls this
// interface.
type LogClient interface {
	// OpenReadStream starts delivering records and gaps from startLSN
	// through untilLSN (inclusive), calling onRecord/onGap for each.
	// Returning false from either callback pauses delivery until Resume
	// is called with the returned stream id. onHealth reports read
	// stream health transitions (used to recover from TAILING back to
	// SYNC_DELTAS).
	OpenReadStream(
		ctx context.Context,
		logID string,
		startLSN, untilLSN LSN,
		onRecord func(DeltaRecord) bool,
		onGap func(Gap) bool,
		onHealth func(healthy bool),
	) (streamID string, err error)

	Resume(ctx context.Context, streamID string) error
	CloseReadStream(ctx context.Context, streamID string) error

	QueryTailLSN(ctx context.Context, logID string) (LSN, error)

	// Append writes payload to logID. bypassWriteToken mirrors the
	// underlying log service's write-token bypass for internal writers.
	Append(ctx context.Context, logID string, payload []byte, bypassWriteToken bool) (LSN, error)

	Trim(ctx context.Context, logID string, uptoLSN LSN) error
}

// SnapshotStore is the optional pluggable store the engine uses for
// snapshot persistence instead of appending snapshots to a log.
type SnapshotStore interface {
	// GetSnapshot fetches the newest snapshot with BaseVersion >=
	// minVersion. status is one of OK, UPTODATE, EMPTY, STALE, NOTFOUND,
	// FAILED, TIMEDOUT, INPROGRESS, TOOBIG.
	GetSnapshot(ctx context.Context, minVersion LSN) (status Status, blob []byte, attrs SnapshotAttrs, err error)

	// WriteSnapshot publishes blob as the snapshot for version. status
	// is OK or UPTODATE.
	WriteSnapshot(ctx context.Context, version LSN, blob []byte) (status Status, lsn LSN, err error)

	GetDurableVersion(ctx context.Context) (LSN, error)

	IsWritable() bool
}

// ClusterState is consulted only to elect a single snapshotter per
// RSM.
type ClusterState interface {
	// FirstAliveNodeIndex returns the index of the lowest-indexed live
	// node, or ok=false if the cluster view is not yet available.
	FirstAliveNodeIndex(ctx context.Context) (index int, ok bool, err error)
	MyNodeIndex() int
}

// StateMachine is the capability set the engine requires of the user's
// state and delta types. T is the in-memory state type, D is the
// decoded delta type. The engine never inspects T or D; it only calls
// these methods.
type StateMachine[T, D any] interface {
	MakeDefault() (T, LSN)
	SerializeState(state T) ([]byte, error)
	DeserializeState(data []byte) (T, error)
	DecodeDelta(payload []byte) (D, error)
	ApplyDelta(delta D, state T, lsn LSN, timestamp int64) (T, error)
}
