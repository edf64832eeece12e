package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tomat/internal/models"
)

func TestTimerRoundTripKeepsFingerprint(t *testing.T) {
	timer := models.NewTimer(1500, models.TimerTypeWork,
		time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))

	doc, err := EncodeTimer(timer)
	require.NoError(t, err)

	decoded, err := DecodeTimer(doc)
	require.NoError(t, err)
	assert.True(t, timer.SameAs(decoded))
	assert.Equal(t, timer.DurationSeconds, decoded.DurationSeconds)
}

func TestDecodeTimerMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{{{`},
		{"missing type", `{"durationSeconds":60,"endTime":"2025-03-14T09:27:53Z"}`},
		{"unknown type", `{"type":"Lunch","durationSeconds":60,"endTime":"2025-03-14T09:27:53Z"}`},
		{"negative duration", `{"type":"Work","durationSeconds":-5,"endTime":"2025-03-14T09:27:53Z"}`},
		{"missing end time", `{"type":"Work","durationSeconds":60}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeTimer([]byte(tc.doc))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeRoomMissingName(t *testing.T) {
	_, err := DecodeRoom([]byte(`{"version":1}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRoomRoundTrip(t *testing.T) {
	doc, err := EncodeRoom(models.NewRoom("Yggdrasil"))
	require.NoError(t, err)

	room, err := DecodeRoom(doc)
	require.NoError(t, err)
	assert.Equal(t, "Yggdrasil", room.Name)
	assert.Equal(t, models.RoomSchemaVersion, room.Version)
}

func TestRosterRoundTrip(t *testing.T) {
	doc, err := EncodeRoster([]models.User{{Name: "Ada"}, {Name: "Grace"}})
	require.NoError(t, err)

	users, err := DecodeRoster(doc)
	require.NoError(t, err)
	assert.Equal(t, []models.User{{Name: "Ada"}, {Name: "Grace"}}, users)
}

func TestDecodeRosterSkipsNamelessEntries(t *testing.T) {
	users, err := DecodeRoster([]byte(`{"users":[{"name":""},{"name":"Ada"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []models.User{{Name: "Ada"}}, users)
}

func TestEncodeRosterEmpty(t *testing.T) {
	doc, err := EncodeRoster(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":[]}`, string(doc))
}
