package ports

import (
	"context"
)

// EventFilter selects which remote document changes a subscription receives
type EventFilter string

const (
	EventAll    EventFilter = "*"
	EventInsert EventFilter = "INSERT"
	EventUpdate EventFilter = "UPDATE"
)

// Matches reports whether an event of the given kind passes the filter
func (f EventFilter) Matches(event EventFilter) bool {
	return f == EventAll || f == "" || f == event
}

// ChangeHandler receives the raw JSON of a document after a remote change
type ChangeHandler func(document []byte)

// Subscription is a live registration for remote change notifications
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe() error
}

// Interruptible is implemented by subscriptions that run over a connection
// which can drop and be re-established. fn is called with a
// REMOTE_UNAVAILABLE error when delivery stops and with nil once it resumes.
// Registering while interrupted calls fn right away with the current error.
type Interruptible interface {
	OnInterrupt(fn func(err error))
}

// RemoteStore is the hosted document service the flow editor persists to.
// Each flow is one JSON document addressed by key.
type RemoteStore interface {
	// GetDocument fetches the current document. found is false when no
	// document has been written for key yet.
	GetDocument(ctx context.Context, key string) (document []byte, found bool, err error)

	// UpsertDocument creates or replaces the whole document.
	UpsertDocument(ctx context.Context, key string, document []byte) error

	// Subscribe registers handler for changes to key. ctx bounds setting the
	// subscription up; once established it lives until Unsubscribe.
	Subscribe(ctx context.Context, key string, filter EventFilter, handler ChangeHandler) (Subscription, error)
}

// SubscriptionFunc adapts a function to the Subscription interface
type SubscriptionFunc func() error

// Unsubscribe calls f
func (f SubscriptionFunc) Unsubscribe() error {
	return f()
}
