package timersync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/store"
	"github.com/mcdev12/tomat/internal/wire"
)

// Repository persists Timer records in the timers collection, one per room.
type Repository struct {
	store store.DocumentStore
}

// NewRepository creates a new timers repository.
func NewRepository(ds store.DocumentStore) *Repository {
	return &Repository{store: ds}
}

// GetTimer reads the timer stored for the room. A malformed stored record
// is reported as store.ErrNotFound so reconciliation replaces it.
func (r *Repository) GetTimer(ctx context.Context, roomName string) (models.Timer, error) {
	doc, err := r.store.Read(ctx, store.TimersCollection, roomName)
	if err != nil {
		return models.Timer{}, fmt.Errorf("read timer for room %q: %w", roomName, err)
	}

	timer, err := wire.DecodeTimer(doc)
	if errors.Is(err, wire.ErrMalformed) {
		log.Warn().Err(err).Str("room", roomName).Msg("malformed timer document, treating as absent")
		return models.Timer{}, fmt.Errorf("decode timer for room %q: %w", roomName, store.ErrNotFound)
	}
	if err != nil {
		return models.Timer{}, fmt.Errorf("decode timer for room %q: %w", roomName, err)
	}
	return timer, nil
}

// SaveTimer overwrites the room's timer record wholly. Last writer wins.
func (r *Repository) SaveTimer(ctx context.Context, roomName string, timer models.Timer) error {
	doc, err := wire.EncodeTimer(timer)
	if err != nil {
		return fmt.Errorf("encode timer for room %q: %w", roomName, err)
	}
	if err := r.store.Write(ctx, store.TimersCollection, roomName, doc); err != nil {
		return fmt.Errorf("write timer for room %q: %w", roomName, err)
	}
	return nil
}

// TimerSubscription is a live feed of decoded timer writes for one room.
type TimerSubscription struct {
	sub store.Subscription
	ch  chan models.Timer
}

// Updates yields each observed timer write, own writes included.
func (s *TimerSubscription) Updates() <-chan models.Timer {
	return s.ch
}

// Stop tears down the underlying store subscription.
func (s *TimerSubscription) Stop() {
	s.sub.Stop()
}

// WatchTimer subscribes to timer changes for the room. Malformed incoming
// documents are logged and skipped.
func (r *Repository) WatchTimer(ctx context.Context, roomName string) (*TimerSubscription, error) {
	sub, err := r.store.Watch(ctx, store.TimersCollection, roomName)
	if err != nil {
		return nil, fmt.Errorf("watch timer for room %q: %w", roomName, err)
	}

	ts := &TimerSubscription{
		sub: sub,
		ch:  make(chan models.Timer),
	}
	go func() {
		defer close(ts.ch)
		for doc := range sub.Updates() {
			timer, err := wire.DecodeTimer(doc)
			if err != nil {
				log.Warn().Err(err).Str("room", roomName).Msg("skipping malformed timer update")
				continue
			}
			select {
			case ts.ch <- timer:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ts, nil
}
