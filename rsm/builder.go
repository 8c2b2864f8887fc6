package rsm

import (
	"fmt"
	"log/slog"

	"github.com/shrtyk/rsm-core/api"
)

// Builder constructs an Engine, following the teacher's builder
// pattern: required dependencies are supplied via With* calls and
// validated together in Build.
type Builder[T, D any] struct {
	cfg  api.Config
	deps Deps[T, D]
}

func NewBuilder[T, D any](cfg api.Config) *Builder[T, D] {
	return &Builder[T, D]{cfg: cfg}
}

func (b *Builder[T, D]) WithStateMachine(sm api.StateMachine[T, D]) *Builder[T, D] {
	b.deps.StateMachine = sm
	return b
}

func (b *Builder[T, D]) WithLogClient(c api.LogClient) *Builder[T, D] {
	b.deps.LogClient = c
	return b
}

func (b *Builder[T, D]) WithSnapshotStore(s api.SnapshotStore) *Builder[T, D] {
	b.deps.SnapshotStore = s
	return b
}

func (b *Builder[T, D]) WithClusterState(c api.ClusterState) *Builder[T, D] {
	b.deps.ClusterState = c
	return b
}

func (b *Builder[T, D]) WithLogger(l *slog.Logger) *Builder[T, D] {
	b.deps.Logger = l
	return b
}

func (b *Builder[T, D]) WithStalledStatHook(fn func()) *Builder[T, D] {
	b.deps.OnStalledBump = fn
	return b
}

func (b *Builder[T, D]) Build() (*Engine[T, D], error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if b.deps.StateMachine == nil {
		return nil, fmt.Errorf("state machine is required")
	}
	if b.deps.LogClient == nil {
		return nil, fmt.Errorf("log client is required")
	}
	if b.cfg.SnapshotLogID != "" && b.deps.SnapshotStore != nil {
		return nil, fmt.Errorf("snapshot log id and snapshot store are mutually exclusive")
	}
	return newEngine(b.cfg, b.deps), nil
}
