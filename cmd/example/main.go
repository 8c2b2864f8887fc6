// Command example wires an Engine to the in-memory reference log
// client and snapshot store, demonstrating construction via Builder.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shrtyk/rsm-core/api"
	"github.com/shrtyk/rsm-core/pkg/clusterstate"
	"github.com/shrtyk/rsm-core/pkg/logger"
	"github.com/shrtyk/rsm-core/pkg/logstore"
	"github.com/shrtyk/rsm-core/pkg/monitoring"
	"github.com/shrtyk/rsm-core/pkg/snapshotstore"
	"github.com/shrtyk/rsm-core/rsm"
)

// counterState is a trivial user state type: an int counter, with
// deltas that add a signed amount to it.
type counterState struct {
	Value int64
}

type counterDelta struct {
	Amount int64
}

type counterMachine struct{}

func (counterMachine) MakeDefault() (counterState, api.LSN) {
	return counterState{}, api.LSNOldest
}

func (counterMachine) SerializeState(s counterState) ([]byte, error) {
	return fmt.Appendf(nil, "%d", s.Value), nil
}

func (counterMachine) DeserializeState(data []byte) (counterState, error) {
	var v int64
	if _, err := fmt.Sscanf(string(data), "%d", &v); err != nil {
		return counterState{}, err
	}
	return counterState{Value: v}, nil
}

func (counterMachine) DecodeDelta(payload []byte) (counterDelta, error) {
	var v int64
	if _, err := fmt.Sscanf(string(payload), "%d", &v); err != nil {
		return counterDelta{}, err
	}
	return counterDelta{Amount: v}, nil
}

func (counterMachine) ApplyDelta(d counterDelta, s counterState, lsn api.LSN, ts int64) (counterState, error) {
	s.Value += d.Amount
	return s, nil
}

func main() {
	log := logger.NewLogger(logger.Dev)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := api.DefaultConfig("counter-deltas")
	cfg.SnapshotLogID = ""

	engine, err := rsm.NewBuilder[counterState, counterDelta](cfg).
		WithStateMachine(counterMachine{}).
		WithLogClient(logstore.NewMemory()).
		WithSnapshotStore(snapshotstore.NewMemory()).
		WithClusterState(clusterstate.NewStatic(0, 0)).
		WithLogger(log).
		Build()
	if err != nil {
		log.Error("failed to build engine", api.ErrAttr(err))
		os.Exit(1)
	}

	handle := engine.Subscribe(ctx, func(n api.Notification[counterState, counterDelta]) {
		log.Info("state updated", "value", n.State.Value, "version", n.Version)
	})
	defer handle.Unsubscribe()

	engine.Start(ctx)
	defer engine.Stop(ctx)

	mon := monitoring.NewServer(engine, ":8090", log)
	if err := mon.Start(); err != nil {
		log.Error("failed to start monitoring server", api.ErrAttr(err))
	}
	defer mon.Stop()

	engine.WriteDelta(ctx, []byte("5"), func(status api.Status, lsn api.LSN, reason string) {
		if status != api.OK {
			log.Warn("write completed with non-OK status", "status", status.String(), "reason", reason)
		}
	}, rsm.WithMode(api.ConfirmAppendOnly))

	<-ctx.Done()
	log.Info("shutting down")
}
