package rsm

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shrtyk/rsm-core/api"
)

func TestPendingIndexAddGetRemove(t *testing.T) {
	p := newPendingIndex()
	id := uuid.New()
	fired := false
	p.add(&pendingEntry{uuid: id, lsn: api.LSNInvalid, callback: func(api.Status, api.LSN, string) { fired = true }})

	entry, ok := p.get(id)
	require.True(t, ok)
	require.Equal(t, id, entry.uuid)
	require.Equal(t, 1, p.len())

	p.remove(id)
	require.Equal(t, 0, p.len())
	_, ok = p.get(id)
	require.False(t, ok)
	require.False(t, fired)
}

func TestDiscardSkippedUpToStopsAtFirstNotOvertaken(t *testing.T) {
	p := newPendingIndex()

	var skipped []uuid.UUID
	cb := func(id uuid.UUID) func(api.Status, api.LSN, string) {
		return func(status api.Status, lsn api.LSN, reason string) {
			require.Equal(t, api.FAILED, status)
			skipped = append(skipped, id)
		}
	}

	idA, idB, idC := uuid.New(), uuid.New(), uuid.New()
	p.add(&pendingEntry{uuid: idA, lsn: api.LSN(10), callback: cb(idA)})
	p.add(&pendingEntry{uuid: idB, lsn: api.LSN(20), callback: cb(idB)})
	p.add(&pendingEntry{uuid: idC, lsn: api.LSNInvalid, callback: cb(idC)}) // append not yet confirmed

	p.discardSkippedUpTo(api.LSN(15))

	require.Equal(t, []uuid.UUID{idA}, skipped)
	require.Equal(t, 2, p.len())
	_, ok := p.get(idB)
	require.True(t, ok)
	_, ok = p.get(idC)
	require.True(t, ok)
}

func TestDiscardSkippedUpToDiscardsAllOvertaken(t *testing.T) {
	p := newPendingIndex()
	var skipped int
	cb := func(status api.Status, lsn api.LSN, reason string) { skipped++ }

	p.add(&pendingEntry{uuid: uuid.New(), lsn: api.LSN(5), callback: cb})
	p.add(&pendingEntry{uuid: uuid.New(), lsn: api.LSN(8), callback: cb})

	p.discardSkippedUpTo(api.LSN(100))

	require.Equal(t, 2, skipped)
	require.Equal(t, 0, p.len())
}
