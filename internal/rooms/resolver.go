package rooms

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/store"
)

// RoomsRepository defines what the resolver needs from the repository.
type RoomsRepository interface {
	GetRoom(ctx context.Context, name string) (models.Room, error)
	CreateRoom(ctx context.Context, room models.Room) error
}

// Resolution is the outcome of a room lookup. "Not yet persisted" is a
// first-class state here rather than a nil check: callers must treat an
// unresolved room as absent and retry on their next trigger.
type Resolution struct {
	room     models.Room
	resolved bool
	existing bool
}

// Unresolved returns the resolution for a room that could not be loaded.
func Unresolved() Resolution {
	return Resolution{}
}

// Resolved reports whether the room was loaded or created in the store.
func (res Resolution) Resolved() bool {
	return res.resolved
}

// Room returns the resolved room record, and whether one is available.
func (res Resolution) Room() (models.Room, bool) {
	return res.room, res.resolved
}

// Existing reports whether the room already existed before this lookup.
func (res Resolution) Existing() bool {
	return res.existing
}

// Resolver loads the logical room for a session by name, creating it in
// the shared store when absent.
type Resolver struct {
	repo RoomsRepository
}

// NewResolver creates a new room resolver.
func NewResolver(repo RoomsRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve reads the room stored under name, creating it when absent.
// Concurrent resolvers for the same name may both create; the content is
// identical, so the last-writer-wins overwrite is benign. Store failures
// are logged and yield an unresolved result.
func (r *Resolver) Resolve(ctx context.Context, name string) Resolution {
	room, err := r.repo.GetRoom(ctx, name)
	if err == nil {
		log.Debug().Str("room", name).Msg("room existed, using stored record")
		return Resolution{room: room, resolved: true, existing: true}
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Str("room", name).Msg("failed to read room")
		return Unresolved()
	}

	newRoom := models.NewRoom(name)
	if err := r.repo.CreateRoom(ctx, newRoom); err != nil {
		log.Error().Err(err).Str("room", name).Msg("failed to create room")
		return Unresolved()
	}
	log.Info().Str("room", name).Msg("room did not exist, created it")
	return Resolution{room: newRoom, resolved: true}
}
