package models

// Room is a named shared context scoping one active Timer and one roster.
// Name doubles as the document key in every collection and is immutable
// once the room has been created.
type Room struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// RoomSchemaVersion is the current schema version written for new rooms.
const RoomSchemaVersion = 1

// NewRoom returns a Room record at the current schema version.
func NewRoom(name string) Room {
	return Room{
		Name:    name,
		Version: RoomSchemaVersion,
	}
}
