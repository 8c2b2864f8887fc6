package rsm

import (
	"context"
	"time"

	"github.com/shrtyk/rsm-core/api"
)

func (e *Engine[T, D]) advertiseInMemory() {
	e.notifyVersionObservers(api.InMemory, e.version)
}

func (e *Engine[T, D]) advertiseDurable(version api.LSN) {
	e.notifyVersionObservers(api.Durable, version)
}

func (e *Engine[T, D]) notifyVersionObservers(kind api.VersionKind, version api.LSN) {
	for _, obs := range e.versionObservers {
		obs(kind, version)
	}
}

// activateGracePeriodForFastForward arms the fast-forward grace timer,
// restarting it from zero if it is already running. Any delta applied
// while it is active
// restarts it (restartFastForwardGraceIfActive, in delta_ingest.go).
func (e *Engine[T, D]) activateGracePeriodForFastForward(ctx context.Context, target api.LSN) {
	e.fastForwardTarget = target
	e.fastForwardPending = true
	if e.fastForwardGraceTimer != nil {
		e.fastForwardGraceTimer.Stop()
	}
	e.fastForwardGraceTimer = time.AfterFunc(e.cfg.FastForwardGracePeriod, func() {
		e.post(func() { e.onFastForwardGraceElapsed(ctx) })
	})
}

func (e *Engine[T, D]) cancelFastForwardGrace() {
	if e.fastForwardGraceTimer != nil {
		e.fastForwardGraceTimer.Stop()
		e.fastForwardGraceTimer = nil
	}
	e.fastForwardPending = false
}

func (e *Engine[T, D]) isGracePeriodForFastForwardActive() bool {
	return e.fastForwardPending
}

func (e *Engine[T, D]) onFastForwardGraceElapsed(ctx context.Context) {
	if !e.fastForwardPending {
		return
	}
	// canFastForward now returns true for the deferred target; replay
	// the deferred snapshot if one is still buffered, otherwise wait for
	// the stream to redeliver it.
	e.fastForwardPending = false
	if e.deferredSnapshot != nil && e.deferredSnapshot.header.BaseVersion == e.fastForwardTarget {
		rec := e.deferredSnapshot
		e.deferredSnapshot = nil
		e.applySnapshot(ctx, rec.header, rec.state)
	}
}

// activateStallGracePeriod arms the stall timer; at expiry, if still
// stalled, bump the stalled-RSM operator counter exactly once.
func (e *Engine[T, D]) activateStallGracePeriod() {
	e.bumpedStalledStat = false
	if e.stallGraceTimer != nil {
		e.stallGraceTimer.Stop()
	}
	e.stallGraceTimer = time.AfterFunc(e.cfg.StallGracePeriod, func() {
		e.post(func() { e.onStallGraceElapsed() })
	})
}

func (e *Engine[T, D]) cancelStallGrace() {
	if e.stallGraceTimer != nil {
		e.stallGraceTimer.Stop()
		e.stallGraceTimer = nil
	}
}

func (e *Engine[T, D]) onStallGraceElapsed() {
	if e.waitingForSnapshot == api.LSNInvalid {
		return
	}
	if !e.bumpedStalledStat {
		e.bumpedStalledStat = true
		if e.bumpStalledStat != nil {
			e.bumpStalledStat()
		}
		e.log.Warn("replicated state machine stalled waiting for snapshot", "waiting_for", e.waitingForSnapshot)
	}
}

// activateConfirmTimer arms a per-entry confirmation timeout. If still
// pending at expiry, the pending entry's callback fires TIMEDOUT and is
// removed; the underlying append may still have landed.
func (e *Engine[T, D]) activateConfirmTimer(id entryID, timeout time.Duration) *time.Timer {
	return time.AfterFunc(timeout, func() {
		e.post(func() { e.onDeltaConfirmationTimeout(id) })
	})
}

func (e *Engine[T, D]) onDeltaConfirmationTimeout(id entryID) {
	entry, ok := e.pending.get(id)
	if !ok {
		return
	}
	entry.callback(api.TIMEDOUT, entry.lsn, "confirmation timed out")
	e.pending.remove(id)
}

// activateSnapshottingTimer arms the self-rescheduling
// periodic snapshot ticker (spec §4.4).
func (e *Engine[T, D]) activateSnapshottingTimer(ctx context.Context) {
	if e.snapshottingTimer != nil {
		return
	}
	e.snapshottingTimer = time.AfterFunc(e.cfg.SnapshottingGracePeriod, func() {
		e.post(func() { e.onSnapshottingTick(ctx) })
	})
}

func (e *Engine[T, D]) onSnapshottingTick(ctx context.Context) {
	e.snapshottingTimer = nil
	e.maybeEmitSnapshot(ctx, nil)
	if e.syncState != api.Tailing {
		return
	}
	e.snapshottingTimer = time.AfterFunc(e.cfg.SnapshottingGracePeriod, func() {
		e.post(func() { e.onSnapshottingTick(ctx) })
	})
}
