// Package natskv implements the document store over NATS JetStream
// key-value buckets: one bucket per collection, one key per room.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/store"
)

// Config holds JetStream KV connection settings.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns default JetStream KV configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Store implements store.DocumentStore over JetStream KV.
type Store struct {
	nc *nats.Conn
	js jetstream.JetStream

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

// New connects to NATS and prepares a JetStream context.
func New(cfg Config) (*Store, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Store{
		nc:      nc,
		js:      js,
		buckets: make(map[string]jetstream.KeyValue),
	}, nil
}

// bucket returns the KV bucket for a collection, creating it on first use.
func (s *Store) bucket(ctx context.Context, collection string) (jetstream.KeyValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kv, ok := s.buckets[collection]; ok {
		return kv, nil
	}
	kv, err := s.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      collection,
		Description: "tomat shared documents",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure bucket %q: %w", collection, err)
	}
	s.buckets[collection] = kv
	return kv, nil
}

func (s *Store) Read(ctx context.Context, collection, key string) ([]byte, error) {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return entry.Value(), nil
}

func (s *Store) Write(ctx context.Context, collection, key string, value []byte) error {
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return err
	}
	// Plain put: last writer wins, matching the store contract. A
	// revision-checked kv.Update would be the CAS hardening path.
	if _, err := kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
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
	kv, err := s.bucket(ctx, collection)
	if err != nil {
		return nil, err
	}
	watcher, err := kv.Watch(ctx, key, jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("watch %s/%s: %w", collection, key, err)
	}

	sub := &subscription{
		watcher: watcher,
		ch:      make(chan []byte),
	}
	go sub.pump(ctx)
	return sub, nil
}

func (s *Store) Close() error {
	s.nc.Close()
	return nil
}

type subscription struct {
	watcher jetstream.KeyWatcher
	ch      chan []byte
}

func (sub *subscription) pump(ctx context.Context) {
	defer close(sub.ch)
	for entry := range sub.watcher.Updates() {
		// A nil entry marks the end of the (empty) initial replay.
		if entry == nil || entry.Operation() != jetstream.KeyValuePut {
			continue
		}
		select {
		case sub.ch <- entry.Value():
		case <-ctx.Done():
			return
		}
	}
}

func (sub *subscription) Updates() <-chan []byte {
	return sub.ch
}

func (sub *subscription) Stop() {
	if err := sub.watcher.Stop(); err != nil {
		log.Debug().Err(err).Msg("stopping KV watcher")
	}
}
