// Package pgstore implements the document store over Postgres: documents
// live in a single jsonb table written through pgx, and change
// notifications ride LISTEN/NOTIFY via a pq.Listener, which reconnects on
// its own.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/store"
)

const (
	notifyChannel = "tomat_documents"

	listenerMinReconnect = time.Second
	listenerMaxReconnect = 30 * time.Second
	listenerPingInterval = 90 * time.Second

	updateBuffer = 64
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection text NOT NULL,
	key        text NOT NULL,
	doc        jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, key)
)`

// Store implements store.DocumentStore over Postgres.
type Store struct {
	pool     *pgxpool.Pool
	listener *pq.Listener
	done     chan struct{}

	mu   sync.Mutex
	subs map[string][]*subscription
}

// New connects to Postgres, ensures the documents table, and starts the
// notification listener.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}

	listener := pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Int("event", int(ev)).Msg("postgres listener event")
			}
		})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		pool.Close()
		return nil, fmt.Errorf("listen on %s: %w", notifyChannel, err)
	}

	s := &Store{
		pool:     pool,
		listener: listener,
		done:     make(chan struct{}),
		subs:     make(map[string][]*subscription),
	}
	go s.dispatch()
	return s, nil
}

func (s *Store) Read(ctx context.Context, collection, key string) ([]byte, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND key = $2`,
		collection, key,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", collection, key, err)
	}
	return doc, nil
}

func (s *Store) Write(ctx context.Context, collection, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (collection, key, doc, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (collection, key)
		 DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		collection, key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, key, err)
	}

	if _, err := s.pool.Exec(ctx,
		`SELECT pg_notify($1, $2)`,
		notifyChannel, collection+"/"+key,
	); err != nil {
		return fmt.Errorf("notify %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, collection, key string, mutate store.MutateFunc) error {
	current, err := s.Read(ctx, collection, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	next, err := mutate(current)
	if err != nil {
		return err
	}
	return s.Write(ctx, collection, key, next)
}

func (s *Store) Watch(ctx context.Context, collection, key string) (store.Subscription, error) {
	sub := &subscription{
		store: s,
		key:   collection + "/" + key,
		ch:    make(chan []byte, updateBuffer),
	}
	s.mu.Lock()
	s.subs[sub.key] = append(s.subs[sub.key], sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *Store) Close() error {
	close(s.done)
	s.listener.Close()
	s.pool.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.closeLocked()
		}
	}
	s.subs = make(map[string][]*subscription)
	return nil
}

// dispatch fans notifications out to watchers. The notification payload
// carries only collection/key; the document itself is re-read so watchers
// always see what the store observed last.
func (s *Store) dispatch() {
	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ping.C:
			if err := s.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("postgres listener ping failed")
			}
		case n := <-s.listener.Notify:
			if n == nil {
				// Reconnect marker; notifications may have been missed.
				continue
			}
			s.handleNotification(n.Extra)
		}
	}
}

func (s *Store) handleNotification(payload string) {
	// Collection names carry no slash; room names may.
	parts := strings.SplitN(payload, "/", 2)
	if len(parts) != 2 {
		log.Warn().Str("payload", payload).Msg("ignoring malformed notification payload")
		return
	}

	s.mu.Lock()
	watchers := append([]*subscription(nil), s.subs[payload]...)
	s.mu.Unlock()
	if len(watchers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	doc, err := s.Read(ctx, parts[0], parts[1])
	if err != nil {
		log.Error().Err(err).Str("payload", payload).Msg("failed to read notified document")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range watchers {
		sub.notify(doc)
	}
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
		log.Warn().Str("key", sub.key).Msg("watcher falling behind, dropping update")
	}
}

func (sub *subscription) closeLocked() {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}
