// Package store defines the document-store collaborator the sync core
// depends on. Implementations provide last-writer-wins overwrites and a
// per-document change feed; no merge, CAS, or transactional protection is
// assumed.
package store

import (
	"context"
	"errors"
)

// Collection names, one document per room per collection.
const (
	RoomsCollection       = "rooms"
	TimersCollection      = "timers"
	UsersInRoomCollection = "usersInRoom"
)

// ErrNotFound is returned by Read when no document exists at the key.
var ErrNotFound = errors.New("document not found")

// MutateFunc transforms a document during a read-modify-write Update.
// current is nil when the document does not exist yet.
type MutateFunc func(current []byte) ([]byte, error)

// DocumentStore is the shared store the timer, room, and roster layers
// write through. Writes are full overwrites under last-writer-wins;
// concurrent writers race by design.
type DocumentStore interface {
	// Read returns the raw document at collection/key, or ErrNotFound.
	Read(ctx context.Context, collection, key string) ([]byte, error)

	// Write replaces the document at collection/key wholly.
	Write(ctx context.Context, collection, key string, value []byte) error

	// Update applies a read-modify-write mutation. Used for roster
	// set-union/set-difference; not atomic across concurrent writers.
	Update(ctx context.Context, collection, key string, mutate MutateFunc) error

	// Watch delivers every subsequent write to collection/key, including
	// the subscriber's own, in the order the store observed them.
	Watch(ctx context.Context, collection, key string) (Subscription, error)

	// Close releases the store connection.
	Close() error
}

// Subscription is a live change feed for a single document. Stop must be
// called exactly once when the owning scope tears down.
type Subscription interface {
	// Updates yields raw document bytes for each observed write. The
	// channel closes when the subscription stops or the store goes away.
	Updates() <-chan []byte

	// Stop tears down the subscription.
	Stop()
}
