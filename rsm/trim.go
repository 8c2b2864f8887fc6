package rsm

import (
	"context"

	"github.com/shrtyk/rsm-core/api"
)

// Trim implements spec §4.8: trim retained history for both the
// snapshot and delta logs, respecting whether a durable snapshot store
// is configured.
func (e *Engine[T, D]) Trim(ctx context.Context, cb func(error)) {
	e.post(func() { e.doTrim(ctx, cb) })
}

func (e *Engine[T, D]) doTrim(ctx context.Context, cb func(error)) {
	if cb == nil {
		cb = func(error) {}
	}

	if e.snapshotStore == nil {
		// Legacy: trim the snapshot log up to retention, then the delta
		// log up to version_.
		version := e.version
		go func() {
			var err error
			if e.cfg.SnapshotLogID != "" {
				err = e.trimSnapshotLogByRetention(ctx)
			}
			if err == nil {
				err = e.logClient.Trim(ctx, e.cfg.DeltaLogID, version)
			}
			cb(err)
		}()
		return
	}

	go func() {
		if e.cfg.SnapshotLogID != "" {
			if err := e.trimSnapshotLogByRetention(ctx); err != nil {
				cb(err)
				return
			}
		}
		durable, err := e.snapshotStore.GetDurableVersion(ctx)
		if err != nil {
			cb(err)
			return
		}
		cb(e.logClient.Trim(ctx, e.cfg.DeltaLogID, durable))
	}()
}

// trimSnapshotLogByRetention trims the snapshot log up to its current
// tail. SnapshotTrimRetention governs how a LogClient implementation
// maps "now minus retention" to an LSN; the engine has no notion of
// wall-clock-to-LSN mapping itself and relies on the client's Trim
// accepting the configured cutoff implicitly.
func (e *Engine[T, D]) trimSnapshotLogByRetention(ctx context.Context) error {
	tail, err := e.logClient.QueryTailLSN(ctx, e.cfg.SnapshotLogID)
	if err != nil {
		return err
	}
	if tail == api.LSNInvalid || tail == api.LSNOldest {
		return nil
	}
	return e.logClient.Trim(ctx, e.cfg.SnapshotLogID, tail)
}
