package rooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/store"
	"github.com/mcdev12/tomat/internal/wire"
)

// Repository persists Room records in the rooms collection.
type Repository struct {
	store store.DocumentStore
}

// NewRepository creates a new rooms repository.
func NewRepository(ds store.DocumentStore) *Repository {
	return &Repository{store: ds}
}

// GetRoom reads the room stored under name. A malformed stored record is
// reported as store.ErrNotFound so the resolver recreates it.
func (r *Repository) GetRoom(ctx context.Context, name string) (models.Room, error) {
	doc, err := r.store.Read(ctx, store.RoomsCollection, name)
	if err != nil {
		return models.Room{}, fmt.Errorf("read room %q: %w", name, err)
	}

	room, err := wire.DecodeRoom(doc)
	if errors.Is(err, wire.ErrMalformed) {
		log.Warn().Err(err).Str("room", name).Msg("malformed room document, treating as absent")
		return models.Room{}, fmt.Errorf("decode room %q: %w", name, store.ErrNotFound)
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("decode room %q: %w", name, err)
	}
	return room, nil
}

// CreateRoom writes the room record under its name.
func (r *Repository) CreateRoom(ctx context.Context, room models.Room) error {
	doc, err := wire.EncodeRoom(room)
	if err != nil {
		return fmt.Errorf("encode room %q: %w", room.Name, err)
	}
	if err := r.store.Write(ctx, store.RoomsCollection, room.Name, doc); err != nil {
		return fmt.Errorf("write room %q: %w", room.Name, err)
	}
	return nil
}
