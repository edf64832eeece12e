package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/rooms"
	"github.com/mcdev12/tomat/internal/roster"
	"github.com/mcdev12/tomat/internal/store/memstore"
	"github.com/mcdev12/tomat/internal/timersync"
)

const testTick = 10 * time.Millisecond

func TestRunResolvesRoomJoinsAndPublishesTimer(t *testing.T) {
	ms := memstore.New()
	sess := New(ms, models.User{Name: "Ada"}, clockwork.NewRealClock(), testTick, timersync.Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- sess.Run(ctx, "forest") }()

	roomRepo := rooms.NewRepository(ms)
	require.Eventually(t, func() bool {
		_, err := roomRepo.GetRoom(context.Background(), "forest")
		return err == nil
	}, time.Second, 5*time.Millisecond, "room record created")

	rosterRepo := roster.NewRepository(ms)
	require.Eventually(t, func() bool {
		users, err := rosterRepo.GetRoster(context.Background(), "forest")
		return err == nil && len(users) == 1 && users[0].Name == "Ada"
	}, time.Second, 5*time.Millisecond, "user joined roster")

	timerRepo := timersync.NewRepository(ms)
	require.Eventually(t, func() bool {
		_, err := timerRepo.GetTimer(context.Background(), "forest")
		return err == nil
	}, time.Second, 5*time.Millisecond, "placeholder timer published")

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}

	// Best-effort leave on teardown.
	users, err := rosterRepo.GetRoster(context.Background(), "forest")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRunDefaultsRoomName(t *testing.T) {
	ms := memstore.New()
	sess := New(ms, models.User{Name: "Ada"}, clockwork.NewRealClock(), testTick, timersync.Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx, "")

	roomRepo := rooms.NewRepository(ms)
	require.Eventually(t, func() bool {
		room, err := roomRepo.GetRoom(context.Background(), DefaultRoomName)
		return err == nil && room.Name == DefaultRoomName
	}, time.Second, 5*time.Millisecond)
}

func TestTwoSessionsShareCountdown(t *testing.T) {
	ms := memstore.New()

	// Seed a stored timer so neither session publishes a placeholder
	// during initial reconciliation.
	seed := models.NewTimer(0, models.TimerTypeBreak, time.Now())
	require.NoError(t, timersync.NewRepository(ms).SaveTimer(context.Background(), "forest", seed))

	ada := New(ms, models.User{Name: "Ada"}, clockwork.NewRealClock(), testTick, timersync.Hooks{})
	grace := New(ms, models.User{Name: "Grace"}, clockwork.NewRealClock(), testTick, timersync.Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ada.Run(ctx, "forest")
	go grace.Run(ctx, "forest")

	require.Eventually(t, func() bool {
		return len(ada.Users()) == 2 && len(grace.Users()) == 2
	}, time.Second, 5*time.Millisecond, "both users on both rosters")

	timer, done := ada.StartWork()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timer write")
	}

	timerRepo := timersync.NewRepository(ms)
	stored, err := timerRepo.GetTimer(context.Background(), "forest")
	require.NoError(t, err)
	assert.True(t, timer.SameAs(stored))

	require.Eventually(t, func() bool {
		tl := grace.TimeLeft()
		return tl.Type == models.TimerTypeWork && !tl.Finished
	}, time.Second, 5*time.Millisecond, "second session displays the shared countdown")
}

func TestPresets(t *testing.T) {
	ms := memstore.New()
	sess := New(ms, models.User{Name: "Ada"}, clockwork.NewRealClock(), testTick, timersync.Hooks{})

	timer, _ := sess.StartShortBreak()
	assert.Equal(t, models.TimerTypeBreak, timer.Type)
	assert.Equal(t, ShortBreakSeconds, timer.DurationSeconds)

	timer, _ = sess.StartLongBreak()
	assert.Equal(t, LongBreakSeconds, timer.DurationSeconds)

	timer, _ = sess.StartCustom(7)
	assert.Equal(t, models.TimerTypeWork, timer.Type)
	assert.Equal(t, 7*60, timer.DurationSeconds)
}
