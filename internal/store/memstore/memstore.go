// Package memstore is an in-memory DocumentStore used by tests and the
// offline backend. Writes fan out to watchers synchronously in write order.
package memstore

import (
	"context"
	"sync"

	"github.com/mcdev12/tomat/internal/store"
)

const updateBuffer = 64

// Store implements store.DocumentStore over a process-local map.
type Store struct {
	mu     sync.Mutex
	docs   map[string][]byte
	subs   map[string][]*subscription
	writes int
	closed bool
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		docs: make(map[string][]byte),
		subs: make(map[string][]*subscription),
	}
}

func docKey(collection, key string) string {
	return collection + "/" + key
}

func (s *Store) Read(ctx context.Context, collection, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[docKey(collection, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (s *Store) Write(ctx context.Context, collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeLocked(collection, key, value)
	return nil
}

func (s *Store) writeLocked(collection, key string, value []byte) {
	doc := make([]byte, len(value))
	copy(doc, value)
	s.docs[docKey(collection, key)] = doc
	s.writes++

	for _, sub := range s.subs[docKey(collection, key)] {
		sub.notify(doc)
	}
}

func (s *Store) Update(ctx context.Context, collection, key string, mutate store.MutateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current []byte
	if doc, ok := s.docs[docKey(collection, key)]; ok {
		current = make([]byte, len(doc))
		copy(current, doc)
	}
	next, err := mutate(current)
	if err != nil {
		return err
	}
	s.writeLocked(collection, key, next)
	return nil
}

func (s *Store) Watch(ctx context.Context, collection, key string) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscription{
		store: s,
		key:   docKey(collection, key),
		ch:    make(chan []byte, updateBuffer),
	}
	s.subs[sub.key] = append(s.subs[sub.key], sub)
	return sub, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.closeLocked()
		}
	}
	s.subs = make(map[string][]*subscription)
	return nil
}

// WriteCount returns the total number of writes observed. Test helper for
// asserting that reconciliation avoids redundant churn.
func (s *Store) WriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type subscription struct {
	store  *Store
	key    string
	ch     chan []byte
	closed bool
}

func (sub *subscription) Updates() <-chan []byte {
	return sub.ch
}

func (sub *subscription) Stop() {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()

	subs := sub.store.subs[sub.key]
	for i, s := range subs {
		if s == sub {
			sub.store.subs[sub.key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	sub.closeLocked()
}

// notify and closeLocked are called with the store mutex held.
func (sub *subscription) notify(doc []byte) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- doc:
	default:
		// Slow watcher; drop rather than block the writer.
	}
}

func (sub *subscription) closeLocked() {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}
