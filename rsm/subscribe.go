package rsm

import (
	"context"

	"github.com/shrtyk/rsm-core/api"
)

type subscriptionHandle[T, D any] struct {
	engine *Engine[T, D]
	id     int
}

func (h *subscriptionHandle[T, D]) Unsubscribe() {
	h.engine.post(func() {
		delete(h.engine.subs, h.id)
	})
}

// Subscribe registers cb to be called on every successful delta apply
// and forward snapshot application while TAILING (or, if configured,
// while replaying). If the engine has already entered TAILING, cb
// receives an immediate synchronous initial-state notification.
func (e *Engine[T, D]) Subscribe(ctx context.Context, cb func(api.Notification[T, D])) api.SubscriptionHandle {
	h := &subscriptionHandle[T, D]{engine: e}
	e.post(func() {
		id := e.nextSubID
		e.nextSubID++
		e.subs[id] = cb
		h.id = id
		if e.syncState == api.Tailing {
			cb(api.Notification[T, D]{State: e.data, Version: e.version})
		}
	})
	return h
}

// BlockStateDelivery gates subscriber notification without gating
// ingestion. Unblocking immediately re-delivers the current state
// once, matching the original's blockStateDelivery semantics.
func (e *Engine[T, D]) BlockStateDelivery(blocked bool) {
	e.post(func() {
		wasBlocked := e.deliveryBlocked
		e.deliveryBlocked = blocked
		if wasBlocked && !blocked {
			if e.syncState == api.Tailing || e.cfg.DeliverWhileReplaying {
				e.notifyInitialState()
			} else {
				e.log.Debug("state delivery unblocked outside tailing, not renotifying")
			}
		}
	})
}

func (e *Engine[T, D]) notifyInitialState() {
	if e.deliveryBlocked {
		return
	}
	for _, cb := range e.subs {
		cb(api.Notification[T, D]{State: e.data, Version: e.version})
	}
}

// notify delivers a delta-caused notification to every subscriber.
func (e *Engine[T, D]) notify(delta D, version api.LSN) {
	if e.deliveryBlocked {
		return
	}
	d := delta
	for _, cb := range e.subs {
		cb(api.Notification[T, D]{State: e.data, Delta: &d, Version: version})
	}
}

// notifyState delivers a notification with no associated delta, used
// when a forward snapshot or a no-snapshot TRIM gap changes data_.
func (e *Engine[T, D]) notifyState(version api.LSN) {
	if e.deliveryBlocked {
		return
	}
	for _, cb := range e.subs {
		cb(api.Notification[T, D]{State: e.data, Version: version})
	}
}
