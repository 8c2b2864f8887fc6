package rsm

import (
	"container/list"
	"time"

	"github.com/google/uuid"

	"github.com/shrtyk/rsm-core/api"
)

// entryID is the UUID a pending entry is keyed by.
type entryID = uuid.UUID

// pendingEntry is one outstanding CONFIRM_APPLIED write.
type pendingEntry struct {
	uuid     uuid.UUID
	lsn      api.LSN // LSNInvalid until the append completes
	callback func(api.Status, api.LSN, string)
	timer    *time.Timer
}

// pendingIndex is the ordered-sequence + uuid-map dual index described
// by spec §9: entries are inserted in submission order (so the front
// of the list always has the smallest or not-yet-assigned target LSN)
// and removed from both views atomically.
type pendingIndex struct {
	order *list.List // of *pendingEntry
	byID  map[uuid.UUID]*list.Element
}

func newPendingIndex() *pendingIndex {
	return &pendingIndex{
		order: list.New(),
		byID:  make(map[uuid.UUID]*list.Element),
	}
}

func (p *pendingIndex) add(e *pendingEntry) {
	el := p.order.PushBack(e)
	p.byID[e.uuid] = el
}

func (p *pendingIndex) get(id uuid.UUID) (*pendingEntry, bool) {
	el, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*pendingEntry), true
}

func (p *pendingIndex) remove(id uuid.UUID) {
	el, ok := p.byID[id]
	if !ok {
		return
	}
	if e := el.Value.(*pendingEntry); e.timer != nil {
		e.timer.Stop()
	}
	p.order.Remove(el)
	delete(p.byID, id)
}

func (p *pendingIndex) len() int {
	return p.order.Len()
}

// discardSkippedUpTo walks the list front-to-back firing "skipped"
// callbacks for every entry whose lsn has been overtaken by version
// (i.e. lsn != LSNInvalid && lsn <= version), exactly the original's
// discardSkippedPendingDeltas. It stops at the first entry that has
// either not yet been assigned an LSN or is not yet overtaken, since
// entries are inserted in submission order and a later append cannot
// have landed at a smaller LSN than an earlier one still pending.
func (p *pendingIndex) discardSkippedUpTo(version api.LSN) {
	for el := p.order.Front(); el != nil; {
		e := el.Value.(*pendingEntry)
		if e.lsn == api.LSNInvalid || e.lsn > version {
			break
		}
		next := el.Next()
		if e.timer != nil {
			e.timer.Stop()
		}
		p.order.Remove(el)
		delete(p.byID, e.uuid)
		e.callback(api.FAILED, e.lsn, "skipped: overtaken by snapshot")
		el = next
	}
}
