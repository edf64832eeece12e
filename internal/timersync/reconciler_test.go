package timersync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/store/memstore"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestReconciler(t *testing.T, ms *memstore.Store, hooks Hooks) (*Reconciler, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	return NewReconciler(NewRepository(ms), clock, time.Second, hooks), clock
}

func awaitWrite(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timer write")
	}
}

func storedTimer(t *testing.T, ms *memstore.Store, room string) models.Timer {
	t.Helper()
	repo := NewRepository(ms)
	timer, err := repo.GetTimer(context.Background(), room)
	require.NoError(t, err)
	return timer
}

func TestStartPersistsTimer(t *testing.T) {
	ms := memstore.New()
	r, _ := newTestReconciler(t, ms, Hooks{})
	r.roomName = "forest"

	timer, done := r.Start(1500, models.TimerTypeWork)
	awaitWrite(t, done)

	assert.True(t, timer.SameAs(storedTimer(t, ms, "forest")))
	assert.Equal(t, StateSynced, r.State())
}

func TestStartBeforeRoomResolutionHoldsLocally(t *testing.T) {
	ms := memstore.New()
	r, _ := newTestReconciler(t, ms, Hooks{})

	timer, done := r.Start(1500, models.TimerTypeWork)
	awaitWrite(t, done)

	assert.Equal(t, 0, ms.WriteCount())
	assert.Equal(t, StateLocalOnly, r.State())
	local, ok := r.LocalTimer()
	require.True(t, ok)
	assert.True(t, timer.SameAs(local))
}

func TestInitialReconcilePublishesLocalTimer(t *testing.T) {
	// Empty store plus a local start: the store converges on the local
	// fingerprint.
	ms := memstore.New()
	r, _ := newTestReconciler(t, ms, Hooks{})

	timer, done := r.Start(1500, models.TimerTypeWork)
	awaitWrite(t, done)

	r.roomName = "forest"
	require.NoError(t, r.reconcileInitial(context.Background()))

	assert.True(t, timer.SameAs(storedTimer(t, ms, "forest")))
	assert.Equal(t, StateSynced, r.State())
}

func TestInitialReconcilePublishesPlaceholderWhenNothingExists(t *testing.T) {
	ms := memstore.New()
	r, _ := newTestReconciler(t, ms, Hooks{})
	r.roomName = "forest"

	require.NoError(t, r.reconcileInitial(context.Background()))

	// A zero-duration break placeholder guarantees later joiners always
	// find a record.
	stored := storedTimer(t, ms, "forest")
	assert.Equal(t, models.TimerTypeBreak, stored.Type)
	assert.Zero(t, stored.DurationSeconds)

	local, ok := r.LocalTimer()
	require.True(t, ok)
	assert.True(t, stored.SameAs(local))
}

func TestInitialReconcileAdoptsRemoteWhenNoLocal(t *testing.T) {
	ms := memstore.New()
	remote := models.NewTimer(300, models.TimerTypeBreak, testNow)
	require.NoError(t, NewRepository(ms).SaveTimer(context.Background(), "forest", remote))

	r, _ := newTestReconciler(t, ms, Hooks{})
	r.roomName = "forest"
	require.NoError(t, r.reconcileInitial(context.Background()))

	local, ok := r.LocalTimer()
	require.True(t, ok)
	assert.True(t, remote.SameAs(local))
	assert.Equal(t, StateSynced, r.State())
}

func TestInitialReconcileMatchingRemotePerformsNoWrite(t *testing.T) {
	ms := memstore.New()
	remote := models.NewTimer(1500, models.TimerTypeWork, testNow)
	require.NoError(t, NewRepository(ms).SaveTimer(context.Background(), "forest", remote))
	writesBefore := ms.WriteCount()

	r, _ := newTestReconciler(t, ms, Hooks{})
	r.roomName = "forest"
	local := models.NewTimer(1500, models.TimerTypeWork, testNow)
	r.local = &local

	require.NoError(t, r.reconcileInitial(context.Background()))

	assert.Equal(t, writesBefore, ms.WriteCount(), "matching remote must not churn the store")
	assert.Equal(t, StateSynced, r.State())
}

func TestInitialReconcileLocalWinsOnDivergence(t *testing.T) {
	ms := memstore.New()
	remote := models.NewTimer(300, models.TimerTypeBreak, testNow.Add(-time.Minute))
	require.NoError(t, NewRepository(ms).SaveTimer(context.Background(), "forest", remote))

	r, _ := newTestReconciler(t, ms, Hooks{})
	r.roomName = "forest"
	local := models.NewTimer(1500, models.TimerTypeWork, testNow)
	r.local = &local

	require.NoError(t, r.reconcileInitial(context.Background()))

	assert.True(t, local.SameAs(storedTimer(t, ms, "forest")),
		"a user who just pressed start must not be discarded by a stale snapshot")
	assert.Equal(t, StateSynced, r.State())
}

type failingTimersRepo struct {
	err error
}

func (f *failingTimersRepo) GetTimer(context.Context, string) (models.Timer, error) {
	return models.Timer{}, f.err
}

func (f *failingTimersRepo) SaveTimer(context.Context, string, models.Timer) error {
	return f.err
}

func (f *failingTimersRepo) WatchTimer(context.Context, string) (*TimerSubscription, error) {
	return nil, f.err
}

func TestInitialReconcileReadFailureStaysUnreconciled(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	r := NewReconciler(&failingTimersRepo{err: errors.New("store unavailable")}, clock, time.Second, Hooks{})
	r.roomName = "forest"

	err := r.reconcileInitial(context.Background())
	require.Error(t, err)
	assert.False(t, r.isReconciled())
	assert.Equal(t, StateNoLocalTimer, r.State())
}

func TestHandleRemoteEchoIgnored(t *testing.T) {
	ms := memstore.New()
	var started atomic.Int32
	r, _ := newTestReconciler(t, ms, Hooks{
		TimerStarted: func(models.Timer) { started.Add(1) },
	})
	local := models.NewTimer(1500, models.TimerTypeWork, testNow)
	r.local = &local

	echo := models.NewTimer(1500, models.TimerTypeWork, testNow)
	r.handleRemote(echo)

	assert.Zero(t, started.Load(), "own echo must not fire the started cue")
	assert.Equal(t, StateSynced, r.State())
}

func TestHandleRemoteAdoptsDifferentTimer(t *testing.T) {
	ms := memstore.New()
	var started atomic.Int32
	r, _ := newTestReconciler(t, ms, Hooks{
		TimerStarted: func(models.Timer) { started.Add(1) },
	})
	local := models.NewTimer(1500, models.TimerTypeWork, testNow)
	r.local = &local

	incoming := models.NewTimer(300, models.TimerTypeBreak, testNow.Add(time.Minute))
	r.handleRemote(incoming)

	adopted, ok := r.LocalTimer()
	require.True(t, ok)
	assert.True(t, incoming.SameAs(adopted), "a subsequent remote write wins once observed")
	assert.Equal(t, int32(1), started.Load())
}

func TestTickFiresFinishedExactlyOnce(t *testing.T) {
	ms := memstore.New()
	var finished atomic.Int32
	r, clock := newTestReconciler(t, ms, Hooks{
		TimerFinished: func(models.Timer) { finished.Add(1) },
	})
	local := models.NewTimer(2, models.TimerTypeWork, testNow)
	r.local = &local

	r.tick(clock.Now())
	assert.Zero(t, finished.Load())
	assert.False(t, r.TimeLeft().Finished)

	clock.Advance(3 * time.Second)
	r.tick(clock.Now())
	assert.Equal(t, int32(1), finished.Load())
	assert.True(t, r.TimeLeft().Finished)

	clock.Advance(time.Second)
	r.tick(clock.Now())
	assert.Equal(t, int32(1), finished.Load(), "finished cue fires once per countdown")
}

func TestTickFiresAgainAfterRestart(t *testing.T) {
	ms := memstore.New()
	var finished atomic.Int32
	r, clock := newTestReconciler(t, ms, Hooks{
		TimerFinished: func(models.Timer) { finished.Add(1) },
	})
	local := models.NewTimer(1, models.TimerTypeWork, testNow)
	r.local = &local

	r.tick(clock.Now())
	clock.Advance(2 * time.Second)
	r.tick(clock.Now())
	require.Equal(t, int32(1), finished.Load())

	// A new countdown re-arms the finished edge.
	next := models.NewTimer(2, models.TimerTypeBreak, clock.Now())
	r.handleRemote(next)
	r.tick(clock.Now())
	clock.Advance(3 * time.Second)
	r.tick(clock.Now())
	assert.Equal(t, int32(2), finished.Load())
}

func TestRunConvergesTwoClients(t *testing.T) {
	// Client A starts a break; client B, subscribed to the same room,
	// adopts a fingerprint-equal timer from the change feed.
	ms := memstore.New()
	room := models.Room{Name: "forest", Version: 1}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed a stored timer so both clients adopt the same record instead of
	// racing to publish placeholders.
	seed := models.NewTimer(0, models.TimerTypeBreak, time.Now())
	require.NoError(t, NewRepository(ms).SaveTimer(ctx, "forest", seed))

	a := NewReconciler(NewRepository(ms), clockwork.NewRealClock(), 10*time.Millisecond, Hooks{})
	var bStarted atomic.Int32
	b := NewReconciler(NewRepository(ms), clockwork.NewRealClock(), 10*time.Millisecond, Hooks{
		TimerStarted: func(models.Timer) { bStarted.Add(1) },
	})

	go a.Run(ctx, room)
	go b.Run(ctx, room)

	require.Eventually(t, func() bool {
		return a.isReconciled() && b.isReconciled()
	}, time.Second, 5*time.Millisecond)

	timer, done := a.Start(300, models.TimerTypeBreak)
	awaitWrite(t, done)

	require.Eventually(t, func() bool {
		adopted, ok := b.LocalTimer()
		return ok && adopted.SameAs(timer)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), bStarted.Load())

	// A's own echo must not count as a remote start.
	local, ok := a.LocalTimer()
	require.True(t, ok)
	assert.True(t, local.SameAs(timer))
}
