// Package wire maps the plain data records in internal/models to and from
// their stored document form. Keeping serialization here keeps the models
// free of storage concerns.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/tomat/internal/models"
)

// ErrMalformed marks a stored document that does not conform to the
// expected shape. Callers treat it as not-found rather than failing.
var ErrMalformed = errors.New("malformed document")

// RoomDoc is the stored form of a Room (rooms/{roomName}).
type RoomDoc struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// TimerDoc is the stored form of a Timer (timers/{roomName}). Fingerprint
// is derived and optional in the stored record; readers always recompute.
type TimerDoc struct {
	Type            string    `json:"type"`
	DurationSeconds int       `json:"durationSeconds"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	Version         int       `json:"version"`
	Fingerprint     string    `json:"fingerprint,omitempty"`
}

// UserDoc is the stored form of a roster entry.
type UserDoc struct {
	Name string `json:"name"`
}

// RosterDoc is the stored form of a room roster (usersInRoom/{roomName}).
type RosterDoc struct {
	Users []UserDoc `json:"users"`
}

// EncodeRoom renders a Room record as a stored document.
func EncodeRoom(room models.Room) ([]byte, error) {
	return json.Marshal(RoomDoc{
		Name:    room.Name,
		Version: room.Version,
	})
}

// DecodeRoom parses a stored room document.
func DecodeRoom(doc []byte) (models.Room, error) {
	var d RoomDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return models.Room{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d.Name == "" {
		return models.Room{}, fmt.Errorf("%w: room missing name", ErrMalformed)
	}
	return models.Room{Name: d.Name, Version: d.Version}, nil
}

// EncodeTimer renders a Timer record as a stored document.
func EncodeTimer(timer models.Timer) ([]byte, error) {
	return json.Marshal(TimerDoc{
		Type:            string(timer.Type),
		DurationSeconds: timer.DurationSeconds,
		StartTime:       timer.StartTime,
		EndTime:         timer.EndTime,
		Version:         timer.Version,
		Fingerprint:     timer.Fingerprint(),
	})
}

// DecodeTimer parses a stored timer document.
func DecodeTimer(doc []byte) (models.Timer, error) {
	var d TimerDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return models.Timer{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ := models.TimerType(d.Type)
	if !typ.Valid() {
		return models.Timer{}, fmt.Errorf("%w: unknown timer type %q", ErrMalformed, d.Type)
	}
	if d.DurationSeconds < 0 {
		return models.Timer{}, fmt.Errorf("%w: negative duration", ErrMalformed)
	}
	if d.EndTime.IsZero() {
		return models.Timer{}, fmt.Errorf("%w: timer missing endTime", ErrMalformed)
	}
	return models.Timer{
		Type:            typ,
		DurationSeconds: d.DurationSeconds,
		StartTime:       d.StartTime.UTC(),
		EndTime:         d.EndTime.UTC(),
		Version:         d.Version,
	}, nil
}

// EncodeRoster renders a roster as a stored document.
func EncodeRoster(users []models.User) ([]byte, error) {
	d := RosterDoc{Users: make([]UserDoc, 0, len(users))}
	for _, u := range users {
		d.Users = append(d.Users, UserDoc{Name: u.Name})
	}
	return json.Marshal(d)
}

// DecodeRoster parses a stored roster document.
func DecodeRoster(doc []byte) ([]models.User, error) {
	var d RosterDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	users := make([]models.User, 0, len(d.Users))
	for _, u := range d.Users {
		if u.Name == "" {
			continue
		}
		users = append(users, models.User{Name: u.Name})
	}
	return users, nil
}
