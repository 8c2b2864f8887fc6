// Package logstore provides reference implementations of
// api.LogClient.
package logstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/shrtyk/rsm-core/api"
)

type record struct {
	lsn     api.LSN
	payload []byte
}

type memLog struct {
	mu        sync.Mutex
	cond      *sync.Cond
	records   []record
	nextLSN   api.LSN
	trimmedTo api.LSN // highest trimmed LSN; a stream below it gets a TRIM gap [next, trimmedTo]
	closed    bool
}

func newMemLog() *memLog {
	// LSNOldest is a sentinel preceding every real record (spec: "LSN_OLDEST
	// < all real LSNs"), so the first appended record gets LSNOldest+1.
	l := &memLog{nextLSN: api.LSNOldest + 1}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Memory is an in-memory, single-process api.LogClient implementation
// backing one or more named logs. It is intended for tests and local
// experimentation, not production use.
type Memory struct {
	mu   sync.Mutex
	logs map[string]*memLog

	streamsMu sync.Mutex
	streams   map[string]*memStream
	nextID    int
}

func NewMemory() *Memory {
	return &Memory{
		logs:    make(map[string]*memLog),
		streams: make(map[string]*memStream),
	}
}

func (m *Memory) logFor(logID string) *memLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[logID]
	if !ok {
		l = newMemLog()
		m.logs[logID] = l
	}
	return l
}

type memStream struct {
	logID    string
	untilLSN api.LSN
	onRecord func(api.DeltaRecord) bool
	onGap    func(api.Gap) bool
	onHealth func(bool)
	resume   chan struct{}
	stop     chan struct{}
}

func (m *Memory) OpenReadStream(
	ctx context.Context,
	logID string,
	startLSN, untilLSN api.LSN,
	onRecord func(api.DeltaRecord) bool,
	onGap func(api.Gap) bool,
	onHealth func(bool),
) (string, error) {
	m.streamsMu.Lock()
	m.nextID++
	id := fmt.Sprintf("%s-%d", logID, m.nextID)
	st := &memStream{
		logID: logID, untilLSN: untilLSN,
		onRecord: onRecord, onGap: onGap, onHealth: onHealth,
		resume: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	m.streams[id] = st
	m.streamsMu.Unlock()

	if onHealth != nil {
		onHealth(true)
	}
	go m.pump(ctx, id, st, startLSN)
	return id, nil
}

func (m *Memory) pump(ctx context.Context, id string, st *memStream, startLSN api.LSN) {
	l := m.logFor(st.logID)
	next := startLSN

	for {
		select {
		case <-ctx.Done():
			return
		case <-st.stop:
			return
		default:
		}

		l.mu.Lock()
		stopped := false
		for next < l.trimmedTo+1 {
			hi := l.trimmedTo
			l.mu.Unlock()
			if !st.onGap(api.Gap{Type: api.GapTrim, Lo: next, Hi: hi}) {
				// Backpressured: redeliver the same gap after Resume
				// instead of advancing past it.
				if !m.awaitResume(st) {
					stopped = true
					l.mu.Lock()
					break
				}
				l.mu.Lock()
				continue
			}
			next = hi + 1
			l.mu.Lock()
		}
		if stopped {
			l.mu.Unlock()
			return
		}

		var found *record
		for i := range l.records {
			if l.records[i].lsn >= next {
				found = &l.records[i]
				break
			}
		}
		if found == nil {
			if l.closed {
				l.mu.Unlock()
				return
			}
			l.cond.Wait()
			l.mu.Unlock()
			continue
		}
		rec := *found
		l.mu.Unlock()

		if st.untilLSN != api.LSNMax && rec.lsn > st.untilLSN {
			return
		}
		if !st.onRecord(api.DeltaRecord{LSN: rec.lsn, Payload: rec.payload}) {
			// Backpressured: redeliver the same record after Resume
			// instead of advancing past it.
			if !m.awaitResume(st) {
				return
			}
			continue
		}
		next = rec.lsn + 1
	}
}

// awaitResume blocks until either Resume is called (true) or the
// stream is closed (false).
func (m *Memory) awaitResume(st *memStream) bool {
	select {
	case <-st.resume:
		return true
	case <-st.stop:
		return false
	}
}

func (m *Memory) Resume(ctx context.Context, streamID string) error {
	m.streamsMu.Lock()
	st, ok := m.streams[streamID]
	m.streamsMu.Unlock()
	if !ok {
		return fmt.Errorf("unknown stream %q", streamID)
	}
	select {
	case st.resume <- struct{}{}:
	default:
	}
	return nil
}

func (m *Memory) CloseReadStream(ctx context.Context, streamID string) error {
	m.streamsMu.Lock()
	st, ok := m.streams[streamID]
	delete(m.streams, streamID)
	m.streamsMu.Unlock()
	if !ok {
		return nil
	}
	close(st.stop)
	return nil
}

func (m *Memory) QueryTailLSN(ctx context.Context, logID string) (api.LSN, error) {
	l := m.logFor(logID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		if l.trimmedTo > 0 {
			return l.trimmedTo, nil
		}
		return api.LSNOldest, nil
	}
	return l.records[len(l.records)-1].lsn, nil
}

func (m *Memory) Append(ctx context.Context, logID string, payload []byte, bypassWriteToken bool) (api.LSN, error) {
	l := m.logFor(logID)
	l.mu.Lock()
	lsn := l.nextLSN
	l.nextLSN++
	l.records = append(l.records, record{lsn: lsn, payload: payload})
	l.cond.Broadcast()
	l.mu.Unlock()
	return lsn, nil
}

func (m *Memory) Trim(ctx context.Context, logID string, uptoLSN api.LSN) error {
	l := m.logFor(logID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if uptoLSN > l.trimmedTo {
		l.trimmedTo = uptoLSN
	}
	kept := l.records[:0]
	for _, r := range l.records {
		if r.lsn > uptoLSN {
			kept = append(kept, r)
		}
	}
	l.records = kept
	l.cond.Broadcast()
	return nil
}
