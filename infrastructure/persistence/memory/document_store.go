package memory

import (
	"context"
	"sync"

	"flowbuilder/application/ports"
)

// DocumentStore is an in-memory RemoteStore. Subscribers are notified
// synchronously from UpsertDocument, in registration order, after the data
// lock is released. Notifications for one key are delivered in write order,
// so the last document a subscriber sees is the stored one. Handlers must not
// write the key they are notified about.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string][]byte
	watchers  map[string][]*watcher
	notify    map[string]*sync.Mutex
	nextID    int
	upserts   int
}

type watcher struct {
	id      int
	filter  ports.EventFilter
	handler ports.ChangeHandler
}

// NewDocumentStore creates an empty in-memory document store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string][]byte),
		watchers:  make(map[string][]*watcher),
		notify:    make(map[string]*sync.Mutex),
	}
}

// GetDocument returns a copy of the stored document
func (s *DocumentStore) GetDocument(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.documents[key]
	if !exists {
		return nil, false, nil
	}
	return append([]byte(nil), doc...), true, nil
}

// UpsertDocument stores a copy of document and notifies matching subscribers
func (s *DocumentStore) UpsertDocument(ctx context.Context, key string, document []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	event := ports.EventUpdate
	if _, exists := s.documents[key]; !exists {
		event = ports.EventInsert
	}
	s.documents[key] = append([]byte(nil), document...)
	s.upserts++
	targets := make([]*watcher, 0, len(s.watchers[key]))
	for _, w := range s.watchers[key] {
		if w.filter.Matches(event) {
			targets = append(targets, w)
		}
	}
	delivery, ok := s.notify[key]
	if !ok {
		delivery = &sync.Mutex{}
		s.notify[key] = delivery
	}
	// taken before mu is released so the next writer of key queues behind us
	delivery.Lock()
	s.mu.Unlock()
	defer delivery.Unlock()

	for _, w := range targets {
		w.handler(append([]byte(nil), document...))
	}
	return nil
}

// Subscribe registers handler for changes to key. Cancelling ctx does not
// remove the subscription; callers unsubscribe explicitly.
func (s *DocumentStore) Subscribe(ctx context.Context, key string, filter ports.EventFilter, handler ports.ChangeHandler) (ports.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextID++
	w := &watcher{id: s.nextID, filter: filter, handler: handler}
	s.watchers[key] = append(s.watchers[key], w)
	s.mu.Unlock()

	return ports.SubscriptionFunc(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[key]
		for i, candidate := range list {
			if candidate.id == w.id {
				s.watchers[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(s.watchers[key]) == 0 {
			delete(s.watchers, key)
		}
		return nil
	}), nil
}

// Upserts returns how many writes the store has accepted
func (s *DocumentStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// Subscribers returns the number of live subscriptions for key
func (s *DocumentStore) Subscribers(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers[key])
}

// Put stores a document without notifying anyone, for seeding fixtures
func (s *DocumentStore) Put(key string, document []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[key] = append([]byte(nil), document...)
}
