package api

import (
	"errors"
	"time"
)

// Config holds every tunable of the sync engine. Zero-value Config is
// not valid; use DefaultConfig or TestsConfig as a base and override.
type Config struct {
	DeltaLogID    string
	SnapshotLogID string // empty means "no snapshot log configured"

	// StopAtTail, when true, caps the initial delta replay read stream
	// at the tail LSN observed at start rather than reading forever.
	StopAtTail bool

	// DeliverWhileReplaying, when true, notifies subscribers during
	// SYNC_DELTAS in addition to TAILING.
	DeliverWhileReplaying bool

	// WriteDeltaHeader controls whether appended deltas carry a
	// DeltaHeader (required for ConfirmApplied writes).
	WriteDeltaHeader bool

	// IncludeReadPointerInSnapshot, when true, requires
	// DeltaReadPtr >= Version before a snapshot may be emitted, and
	// embeds DeltaLogReadPtr in the written header.
	IncludeReadPointerInSnapshot bool

	// CompressSnapshots enables Zstd level-5 compression of snapshot
	// payloads on write.
	CompressSnapshots bool

	// CanSkipBadSnapshot, when true, logs and skips an undecodable
	// snapshot instead of stalling.
	CanSkipBadSnapshot bool

	// StallIfDataLoss controls whether a DATALOSS gap stalls delta
	// ingestion pending a snapshot.
	StallIfDataLoss bool

	MaxPendingConfirmation int

	FastForwardGracePeriod time.Duration
	StallGracePeriod       time.Duration
	SnapshottingGracePeriod time.Duration

	SnapshotFetchBackoffMin time.Duration
	SnapshotFetchBackoffMax time.Duration

	DefaultWriteTimeout      time.Duration
	DefaultConfirmTimeout    time.Duration

	SnapshotTrimRetention time.Duration
}

func (c Config) Validate() error {
	var errs []error
	if c.DeltaLogID == "" {
		errs = append(errs, errors.New("delta log id must not be empty"))
	}
	if c.MaxPendingConfirmation <= 0 {
		errs = append(errs, errors.New("max pending confirmation must be positive"))
	}
	if c.SnapshotFetchBackoffMin <= 0 || c.SnapshotFetchBackoffMax < c.SnapshotFetchBackoffMin {
		errs = append(errs, errors.New("invalid snapshot fetch backoff bounds"))
	}
	if c.FastForwardGracePeriod < 0 || c.StallGracePeriod < 0 || c.SnapshottingGracePeriod < 0 {
		errs = append(errs, errors.New("grace periods must not be negative"))
	}
	return errors.Join(errs...)
}

// DefaultConfig returns production defaults.
func DefaultConfig(deltaLogID string) Config {
	return Config{
		DeltaLogID:                   deltaLogID,
		DeliverWhileReplaying:        false,
		WriteDeltaHeader:             true,
		IncludeReadPointerInSnapshot: true,
		CompressSnapshots:            true,
		CanSkipBadSnapshot:           false,
		StallIfDataLoss:              true,
		MaxPendingConfirmation:       128,
		FastForwardGracePeriod:       3 * time.Second,
		StallGracePeriod:             3 * time.Second,
		SnapshottingGracePeriod:      60 * time.Second,
		SnapshotFetchBackoffMin:      1 * time.Second,
		SnapshotFetchBackoffMax:      600 * time.Second,
		DefaultWriteTimeout:          5 * time.Second,
		DefaultConfirmTimeout:        10 * time.Second,
		SnapshotTrimRetention:        24 * time.Hour,
	}
}

// TestsConfig returns deterministic, millisecond-scale defaults
// suitable for unit tests.
func TestsConfig(deltaLogID string) Config {
	cfg := DefaultConfig(deltaLogID)
	cfg.FastForwardGracePeriod = 20 * time.Millisecond
	cfg.StallGracePeriod = 20 * time.Millisecond
	cfg.SnapshottingGracePeriod = 10 * time.Millisecond
	cfg.SnapshotFetchBackoffMin = 1 * time.Millisecond
	cfg.SnapshotFetchBackoffMax = 50 * time.Millisecond
	cfg.DefaultWriteTimeout = 200 * time.Millisecond
	cfg.DefaultConfirmTimeout = 200 * time.Millisecond
	cfg.SnapshotTrimRetention = time.Second
	return cfg
}
