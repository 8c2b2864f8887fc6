// Package rsm implements a synchronization and consistency engine for
// a replicated state machine: it orders snapshot and delta ingestion
// from an external log service, reconciles gaps against snapshot
// coverage, arbitrates fast-forwards, confirms writes, and coordinates
// periodic snapshot emission.
package rsm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shrtyk/rsm-core/api"
)

// Engine is the sync/consistency engine described by this module. T is
// the in-memory state type, D is the decoded delta type. All mutable
// fields below are owned exclusively by the engine's single worker
// goroutine; external callers communicate with it only by posting
// closures onto cmds, never by touching fields directly.
type Engine[T, D any] struct {
	cfg api.Config
	log *slog.Logger
	sm  api.StateMachine[T, D]

	logClient     api.LogClient
	snapshotStore api.SnapshotStore // nil if not configured
	clusterState  api.ClusterState  // nil if not configured

	cmds chan func()
	done chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once
	stopSem  chan struct{} // closed on stop, Wait() blocks on it

	// --- engine-owned state, spec §3 ---

	data    T
	version api.LSN

	lastSnapshotVersion        api.LSN
	lastSnapshotLastReadPtr    api.LSN
	deltaLogByteOffset         uint64
	deltaLogOffset             uint64
	lastSnapshotByteOffset     uint64
	lastSnapshotOffset         uint64

	deltaReadPtr api.LSN

	snapshotSync api.LSN
	deltaSync    api.LSN

	waitingForSnapshot api.LSN // api.LSNInvalid when not stalled

	syncState api.SyncState

	pending *pendingIndex

	deltaStreamID     string
	deltaStreamHealthy bool
	snapshotStreamID  string

	snapshotInFlight    bool
	deltaAppendsInFlight int

	lastWrittenVersion api.LSN

	deliveryBlocked bool

	// deferredSnapshot holds the newest decoded snapshot seen below
	// snapshotSync while still in SYNC_SNAPSHOT (each such record is
	// decoded on arrival; only the newest is kept), or the snapshot
	// deferred by the fast-forward grace period while TAILING.
	deferredSnapshot *snapshotRecord[T]

	subs     map[int]func(api.Notification[T, D])
	nextSubID int

	versionObservers []api.VersionsObserver

	fastForwardGraceTimer  *time.Timer
	fastForwardTarget      api.LSN
	fastForwardPending     bool

	stallGraceTimer   *time.Timer
	bumpedStalledStat bool

	snapshottingTimer *time.Timer

	bumpStalledStat func() // operator counter hook, nil-safe
}

// Deps bundles the external collaborators the engine consumes. All
// fields besides LogClient and StateMachine are optional.
type Deps[T, D any] struct {
	StateMachine  api.StateMachine[T, D]
	LogClient     api.LogClient
	SnapshotStore api.SnapshotStore
	ClusterState  api.ClusterState
	Logger        *slog.Logger
	OnStalledBump func()
}

func newEngine[T, D any](cfg api.Config, deps Deps[T, D]) *Engine[T, D] {
	lg := deps.Logger
	if lg == nil {
		lg = slog.Default()
	}
	e := &Engine[T, D]{
		cfg:           cfg,
		log:           lg,
		sm:            deps.StateMachine,
		logClient:     deps.LogClient,
		snapshotStore: deps.SnapshotStore,
		clusterState:  deps.ClusterState,
		cmds:          make(chan func(), 256),
		done:          make(chan struct{}),
		stopSem:       make(chan struct{}),
		pending:       newPendingIndex(),
		subs:          make(map[int]func(api.Notification[T, D])),
		bumpStalledStat: deps.OnStalledBump,
	}
	e.data, e.version = e.sm.MakeDefault()
	e.waitingForSnapshot = api.LSNInvalid
	e.syncState = api.SyncSnapshot
	return e
}

// post schedules fn to run on the engine's worker goroutine. Safe to
// call from any goroutine, including log-client/snapshot-store
// callbacks. A post after Stop is silently dropped, matching the
// "ticket" semantics of the design this engine is based on: a posted
// callback that outlives the engine simply finds nothing to do.
func (e *Engine[T, D]) post(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.done:
	}
}

// postSync schedules fn to run on the worker goroutine and blocks the
// calling goroutine until it has run, returning its result. Used by
// log-client record/gap callbacks, which need a synchronous true/false
// backpressure decision even though the engine's state is only ever
// touched from its own worker.
func (e *Engine[T, D]) postSync(fn func() bool) bool {
	result := make(chan bool, 1)
	e.post(func() { result <- fn() })
	select {
	case r := <-result:
		return r
	case <-e.done:
		return false
	}
}

// Start launches the worker goroutine and begins the sync state
// machine at SYNC_SNAPSHOT (or SYNC_DELTAS if no snapshot log/store is
// configured).
func (e *Engine[T, D]) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)
	e.post(func() { e.enterSyncSnapshot(ctx) })
}

func (e *Engine[T, D]) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.done:
			return
		}
	}
}

// Stop tears down read streams, cancels timers, and unblocks Wait.
// Stop is idempotent.
func (e *Engine[T, D]) Stop(ctx context.Context) {
	e.post(func() { e.shutdown() })
}

func (e *Engine[T, D]) shutdown() {
	e.stopOnce.Do(func() {
		if e.deltaStreamID != "" {
			_ = e.logClient.CloseReadStream(context.Background(), e.deltaStreamID)
		}
		if e.snapshotStreamID != "" {
			_ = e.logClient.CloseReadStream(context.Background(), e.snapshotStreamID)
		}
		e.cancelFastForwardGrace()
		e.cancelStallGrace()
		if e.snapshottingTimer != nil {
			e.snapshottingTimer.Stop()
		}
		close(e.done)
		close(e.stopSem)
	})
}

// Wait blocks until Stop is called or timeout elapses, returning true
// if stop was signalled.
func (e *Engine[T, D]) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-e.stopSem
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-e.stopSem:
		return true
	case <-t.C:
		return false
	}
}

func newDeltaUUID() uuid.UUID {
	return uuid.New()
}
