package rsm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anishathalye/porcupine"
	"github.com/stretchr/testify/require"

	"github.com/shrtyk/rsm-core/api"
	"github.com/shrtyk/rsm-core/pkg/logstore"
)

// recordingMachine is counterMachine with ApplyDelta additionally
// recording the post-apply value at each LSN, so the linearizability
// test can build porcupine operations without racing the engine's own
// goroutine to read back state.
type recordingMachine struct {
	mu     sync.Mutex
	values map[api.LSN]int64
}

func newRecordingMachine() *recordingMachine {
	return &recordingMachine{values: make(map[api.LSN]int64)}
}

func (recordingMachine) MakeDefault() (counterState, api.LSN) {
	return counterState{}, api.LSNOldest
}

func (recordingMachine) SerializeState(s counterState) ([]byte, error) {
	return []byte{byte(s.value)}, nil
}

func (recordingMachine) DeserializeState(data []byte) (counterState, error) {
	if len(data) == 0 {
		return counterState{}, nil
	}
	return counterState{value: int64(data[0])}, nil
}

func (recordingMachine) DecodeDelta(payload []byte) (counterDelta, error) {
	if len(payload) == 0 {
		return counterDelta{}, nil
	}
	return counterDelta{amount: int64(payload[0])}, nil
}

func (m *recordingMachine) ApplyDelta(d counterDelta, s counterState, lsn api.LSN, ts int64) (counterState, error) {
	ns := counterState{value: s.value + d.amount}
	m.mu.Lock()
	m.values[lsn] = ns.value
	m.mu.Unlock()
	return ns, nil
}

func (m *recordingMachine) valueAt(lsn api.LSN) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[lsn]
}

// TestConcurrentConfirmedWritesAreLinearizable checks, with porcupine,
// that the counter value observed at each write's confirmed LSN is
// consistent with some sequential execution of the concurrent writes
// that produced it. ConfirmApplied is the contract under test: by the
// time a write's callback fires, its effect must be totally ordered
// with respect to every other write's.
func TestConcurrentConfirmedWritesAreLinearizable(t *testing.T) {
	sm := newRecordingMachine()
	cfg := api.TestsConfig("deltas")
	lc := logstore.NewMemory()
	eng, err := NewBuilder[counterState, counterDelta](cfg).
		WithStateMachine(sm).
		WithLogClient(lc).
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	defer eng.Stop(ctx)
	waitForTailing(t, eng)

	const numClients = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ops []porcupine.Operation

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			amount := int64(clientID + 1)

			result := make(chan struct {
				status api.Status
				lsn    api.LSN
			}, 1)
			call := time.Now().UnixNano()
			eng.WriteDelta(ctx, []byte{byte(amount)}, func(status api.Status, lsn api.LSN, reason string) {
				result <- struct {
					status api.Status
					lsn    api.LSN
				}{status, lsn}
			}, WithMode(api.ConfirmApplied))

			var r struct {
				status api.Status
				lsn    api.LSN
			}
			select {
			case r = <-result:
			case <-time.After(5 * time.Second):
				t.Errorf("client %d timed out waiting for confirmation", clientID)
				return
			}
			ret := time.Now().UnixNano()
			require.Equal(t, api.OK, r.status)

			op := porcupine.Operation{
				ClientId: clientID,
				Input:    amount,
				Call:     call,
				Output:   sm.valueAt(r.lsn),
				Return:   ret,
			}
			mu.Lock()
			ops = append(ops, op)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, ops, numClients)

	model := porcupine.Model{
		Init: func() any { return int64(0) },
		Step: func(state, input, output any) (bool, any) {
			s := state.(int64)
			in := input.(int64)
			out := output.(int64)
			next := s + in
			return next == out, next
		},
	}

	require.True(t, porcupine.CheckOperations(model, ops), "write history is not linearizable")
}
