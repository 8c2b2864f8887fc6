package api

import (
	"time"

	"github.com/google/uuid"
)

// LSN is a log sequence number: a totally ordered identifier assigned
// by a log service to a record within a single log.
type LSN uint64

const (
	// LSNInvalid is a sentinel meaning "no LSN".
	LSNInvalid LSN = 0
	// LSNOldest precedes every real LSN in a log.
	LSNOldest LSN = 1
	// LSNMax is a read-until-forever marker for open-ended read streams.
	LSNMax LSN = 1<<64 - 1
)

// SyncState is the engine's lifecycle state.
type SyncState uint8

const (
	SyncSnapshot SyncState = iota
	SyncDeltas
	Tailing
)

func (s SyncState) String() string {
	switch s {
	case SyncSnapshot:
		return "SYNC_SNAPSHOT"
	case SyncDeltas:
		return "SYNC_DELTAS"
	case Tailing:
		return "TAILING"
	default:
		return "UNKNOWN"
	}
}

// WriteMode controls what write_delta waits for before invoking its
// callback.
type WriteMode uint8

const (
	// ConfirmAppendOnly resolves as soon as the append has landed in the
	// delta log, without waiting for local application.
	ConfirmAppendOnly WriteMode = iota
	// ConfirmApplied resolves only after the appended delta has been
	// applied locally (or definitively skipped, or timed out).
	ConfirmApplied
)

// GapType classifies a gap reported by a log client read stream.
type GapType uint8

const (
	GapTrim GapType = iota
	GapDataloss
)

func (g GapType) String() string {
	if g == GapTrim {
		return "TRIM"
	}
	return "DATALOSS"
}

// Gap describes a contiguous range of LSNs the read stream could not
// deliver records for.
type Gap struct {
	Type GapType
	Lo   LSN
	Hi   LSN
}

// DeltaRecord is a single record read from the delta log.
type DeltaRecord struct {
	LSN       LSN
	Payload   []byte
	Timestamp time.Time
}

// SnapshotAttrs are the attributes a snapshot store returns alongside
// a fetched blob.
type SnapshotAttrs struct {
	BaseVersion LSN
	Timestamp   time.Time
}

// DeltaHeader is the fixed-layout header optionally prefixed to a
// delta payload on the wire.
type DeltaHeader struct {
	HeaderSize uint32
	Checksum   uint32
	UUID       uuid.UUID
}

// SnapshotHeaderFormatVersion enumerates on-wire snapshot header
// layouts. ContainsDeltaLogReadPtrAndLength is the only version this
// engine writes; older versions are accepted on read.
type SnapshotHeaderFormatVersion uint8

const (
	SnapshotHeaderBase SnapshotHeaderFormatVersion = 1
	SnapshotHeaderContainsDeltaLogReadPtrAndLength SnapshotHeaderFormatVersion = 2
)

// SnapshotFlagZstd is the SnapshotHeader.Flags bit indicating the
// payload following the header is Zstd-compressed.
const SnapshotFlagZstd = 1 << 0

// SnapshotHeader is the fixed-layout header prefixed to every snapshot
// payload.
type SnapshotHeader struct {
	FormatVersion     SnapshotHeaderFormatVersion
	Flags             uint8
	ByteOffset        uint64
	Offset            uint64
	BaseVersion       LSN
	Length            uint32
	DeltaLogReadPtr   LSN
}

func (h SnapshotHeader) Compressed() bool {
	return h.Flags&SnapshotFlagZstd != 0
}

// DebugInfo is the tuple published by the engine's debug-info
// accessor.
type DebugInfo struct {
	DeltaLogID            string
	SnapshotLogID         string
	Version               LSN
	DeltaReadPtr          LSN
	DeltaSync             LSN
	SnapshotReaderNextLSN LSN
	SnapshotSync          LSN
	WaitingForSnapshot    LSN
	DeltaAppendsInFlight  int
	PendingConfirmations  int
	SnapshotInFlight      bool
	BytesSinceLastSnapshot uint64
	DeltasSinceLastSnapshot uint64
	DeltaStreamHealthy    bool
}
