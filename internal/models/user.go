package models

import "github.com/google/uuid"

// User is a participant in a room. Rosters are keyed by display name, so
// two users with the same name collapse into one entry (known limitation).
type User struct {
	Name string `json:"name"`
}

// NewGuestUser returns a user with a randomly generated display name.
func NewGuestUser() User {
	return User{Name: "guest-" + uuid.NewString()[:8]}
}
