package rsm

import (
	"context"
	"time"

	"github.com/shrtyk/rsm-core/api"
)

// WriteCallback is invoked once per WriteDelta call, with the LSN the
// delta was appended at (LSNInvalid if the append itself failed) and a
// human-readable reason for non-OK statuses.
type WriteCallback func(status api.Status, lsn api.LSN, reason string)

// WriteOption configures a single WriteDelta call.
type WriteOption func(*writeOpts)

type writeOpts struct {
	mode        api.WriteMode
	baseVersion api.LSN
	timeout     time.Duration
}

func WithMode(m api.WriteMode) WriteOption {
	return func(o *writeOpts) { o.mode = m }
}

// WithBaseVersion enables the optimistic-concurrency check: the write
// fails STALE if baseVersion < the engine's current version.
func WithBaseVersion(v api.LSN) WriteOption {
	return func(o *writeOpts) { o.baseVersion = v }
}

func WithTimeout(d time.Duration) WriteOption {
	return func(o *writeOpts) { o.timeout = d }
}

// WriteDelta implements spec §4.7. The payload is the caller's opaque
// body; the engine frames it with a DeltaHeader when WriteDeltaHeader
// is enabled.
func (e *Engine[T, D]) WriteDelta(ctx context.Context, payload []byte, cb WriteCallback, opts ...WriteOption) {
	o := writeOpts{mode: api.ConfirmAppendOnly, baseVersion: api.LSNInvalid, timeout: e.cfg.DefaultWriteTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	e.post(func() { e.doWriteDelta(ctx, payload, cb, o) })
}

func (e *Engine[T, D]) doWriteDelta(ctx context.Context, payload []byte, cb WriteCallback, o writeOpts) {
	if cb == nil {
		cb = func(api.Status, api.LSN, string) {}
	}

	if o.mode == api.ConfirmApplied {
		if e.syncState != api.Tailing || !e.deltaStreamHealthy {
			cb(api.AGAIN, api.LSNInvalid, "not tailing or delta stream unhealthy")
			return
		}
		if e.pending.len() >= e.cfg.MaxPendingConfirmation {
			cb(api.NOBUFS, api.LSNInvalid, "too many pending confirmations")
			return
		}
		if !e.cfg.WriteDeltaHeader {
			cb(api.NOTSUPPORTED, api.LSNInvalid, "delta headers disabled")
			return
		}
	}

	if o.baseVersion != api.LSNInvalid {
		if o.baseVersion < e.version {
			cb(api.STALE, api.LSNInvalid, "base version behind current version")
			return
		}
		if o.baseVersion > e.version {
			cb(api.FAILED, api.LSNInvalid, "base version ahead of current version")
			return
		}
	}

	id := newDeltaUUID()
	wire := encodeDeltaPayload(e.cfg.WriteDeltaHeader, id, payload)

	var entry *pendingEntry
	if o.mode == api.ConfirmApplied {
		entry = &pendingEntry{
			uuid:     id,
			lsn:      api.LSNInvalid,
			callback: cb,
		}
		e.pending.add(entry)
	}

	e.deltaAppendsInFlight++
	bypassToken := false
	go e.doAppend(ctx, wire, cb, o, entry, bypassToken)
}

func (e *Engine[T, D]) doAppend(
	ctx context.Context,
	wire []byte,
	cb WriteCallback,
	o writeOpts,
	entry *pendingEntry,
	bypassToken bool,
) {
	lsn, err := e.logClient.Append(ctx, e.cfg.DeltaLogID, wire, bypassToken)
	e.post(func() {
		e.deltaAppendsInFlight--
		if err != nil {
			if entry != nil {
				e.pending.remove(entry.uuid)
			}
			cb(api.FAILED, api.LSNInvalid, err.Error())
			return
		}
		if o.mode == api.ConfirmAppendOnly {
			cb(api.OK, lsn, "")
			return
		}
		// ConfirmApplied: record the LSN and arm the per-entry timer.
		// The entry may already have fired and been removed if the
		// delta record arrived and was applied before the append
		// callback ran.
		if got, ok := e.pending.get(entry.uuid); ok {
			got.lsn = lsn
			got.timer = e.activateConfirmTimer(entry.uuid, o.timeout)
			e.pending.discardSkippedUpTo(e.version)
		}
	})
}
