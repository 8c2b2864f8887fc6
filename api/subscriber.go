package api

// VersionKind distinguishes a version that has been applied in memory
// from one that is durably captured by the newest successful snapshot.
type VersionKind uint8

const (
	InMemory VersionKind = iota
	Durable
)

// VersionsObserver is notified whenever the engine advertises a new
// in-memory or durable version.
type VersionsObserver func(kind VersionKind, version LSN)

// Notification is delivered to subscribers on every successful delta
// apply and every successful forward snapshot application.
type Notification[T, D any] struct {
	State   T
	Delta   *D // nil for a snapshot-caused notification or the initial callback
	Version LSN
}

// SubscriptionHandle is returned by Subscribe. Unsubscribe is
// idempotent; callers are expected to defer it.
type SubscriptionHandle interface {
	Unsubscribe()
}
