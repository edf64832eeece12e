// Package timersync reconciles a client's locally-started timer against
// the timer stored for its room. The store is the system of record for the
// persisted form; the reconciler's in-memory state is authoritative for
// what the local client displays between sync events.
package timersync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/store"
)

// DefaultTickInterval is how often the remaining time is recomputed.
const DefaultTickInterval = time.Second

// State is the reconciler's per-room synchronization state.
type State string

const (
	StateNoLocalTimer State = "NO_LOCAL_TIMER"
	StateLocalOnly    State = "LOCAL_ONLY"
	StateSynced       State = "SYNCED"
	StateDiverged     State = "DIVERGED"
)

// TimersRepository defines what the reconciler needs from the repository.
type TimersRepository interface {
	GetTimer(ctx context.Context, roomName string) (models.Timer, error)
	SaveTimer(ctx context.Context, roomName string, timer models.Timer) error
	WatchTimer(ctx context.Context, roomName string) (*TimerSubscription, error)
}

// Hooks are side effects the reconciler fires on state transitions. The
// started hook fires when a different timer arrives from the store; the
// client that started it locally never hears it as a remote event because
// its own echo is fingerprint-equal. The finished hook fires exactly once
// per countdown on the not-finished to finished tick edge.
type Hooks struct {
	TimerStarted  func(models.Timer)
	TimerFinished func(models.Timer)
}

// Reconciler decides which timer is canonical for a room at any instant,
// persists the outcome, and keeps local and remote state converging.
// Conflict policy: a local action wins over a stale read at initial
// reconciliation, but any subsequent remote write wins once observed.
type Reconciler struct {
	repo     TimersRepository
	clock    clockwork.Clock
	interval time.Duration
	hooks    Hooks

	mu         sync.Mutex
	roomName   string
	local      *models.Timer
	state      State
	timeLeft   models.TimeLeft
	reconciled bool
}

// NewReconciler creates a reconciler ticking at interval. A zero interval
// falls back to DefaultTickInterval.
func NewReconciler(repo TimersRepository, clock clockwork.Clock, interval time.Duration, hooks Hooks) *Reconciler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Reconciler{
		repo:     repo,
		clock:    clock,
		interval: interval,
		hooks:    hooks,
		state:    StateNoLocalTimer,
		timeLeft: models.TimeLeft{Finished: true, Type: models.TimerTypeBreak},
	}
}

// Start begins a new countdown now, adopts it locally, and dispatches an
// unconditional overwrite of the room's stored timer without blocking.
// The returned channel reports the write outcome; callers may await it or
// discard it. A failed write is dropped with a log entry and never
// retried; local state stays authoritative.
func (r *Reconciler) Start(durationSeconds int, typ models.TimerType) (models.Timer, <-chan error) {
	timer := models.NewTimer(durationSeconds, typ, r.clock.Now())
	done := make(chan error, 1)

	r.mu.Lock()
	r.local = &timer
	r.state = StateLocalOnly
	r.timeLeft = timer.TimeLeftAt(r.clock.Now())
	roomName := r.roomName
	r.mu.Unlock()

	if roomName == "" {
		// No resolved room yet; initial reconciliation publishes the timer.
		log.Debug().Msg("started timer before room resolution, holding locally")
		done <- nil
		return timer, done
	}

	go func() {
		if err := r.repo.SaveTimer(context.Background(), roomName, timer); err != nil {
			log.Error().Err(err).Str("room", roomName).Msg("failed to persist started timer")
			done <- err
			return
		}
		r.mu.Lock()
		if r.local != nil && r.local.SameAs(timer) {
			r.state = StateSynced
		}
		r.mu.Unlock()
		done <- nil
	}()

	log.Info().
		Str("room", roomName).
		Str("type", string(typ)).
		Int("duration_seconds", durationSeconds).
		Msg("started new timer")
	return timer, done
}

// Run drives the reconciler for a resolved room until ctx is cancelled:
// it subscribes to timer changes, performs initial reconciliation, and
// recomputes the remaining time every tick. The subscription is torn down
// exactly once on return.
func (r *Reconciler) Run(ctx context.Context, room models.Room) error {
	r.mu.Lock()
	r.roomName = room.Name
	r.mu.Unlock()

	sub, err := r.repo.WatchTimer(ctx, room.Name)
	if err != nil {
		log.Error().Err(err).Str("room", room.Name).Msg("failed to watch timer changes")
		return err
	}
	defer sub.Stop()

	if err := r.reconcileInitial(ctx); err != nil {
		log.Warn().Err(err).Str("room", room.Name).Msg("initial timer reconciliation failed, will retry")
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case timer, ok := <-sub.Updates():
			if !ok {
				return errors.New("timer subscription closed")
			}
			r.handleRemote(timer)
		case <-ticker.Chan():
			if !r.isReconciled() {
				if err := r.reconcileInitial(ctx); err != nil {
					log.Debug().Err(err).Str("room", room.Name).Msg("timer reconciliation retry failed")
				}
			}
			r.tick(r.clock.Now())
		}
	}
}

// reconcileInitial resolves the local timer against the stored one when a
// room becomes active. On return with nil error the store is guaranteed to
// hold a timer record for the room, so later joiners always find one.
func (r *Reconciler) reconcileInitial(ctx context.Context) error {
	r.mu.Lock()
	roomName := r.roomName
	r.mu.Unlock()

	remote, err := r.repo.GetTimer(ctx, roomName)
	if errors.Is(err, store.ErrNotFound) {
		return r.publishCandidate(ctx, roomName)
	}
	if err != nil {
		// Remain unreconciled; the next tick retries.
		return err
	}

	r.mu.Lock()
	if r.local == nil {
		r.adoptLocked(remote)
		r.mu.Unlock()
		log.Info().Str("room", roomName).Msg("timer existed remotely but not locally, using remote one")
		return nil
	}
	if r.local.SameAs(remote) {
		r.adoptLocked(remote)
		r.mu.Unlock()
		log.Info().Str("room", roomName).Msg("remote timer was the same as local, using remote one")
		return nil
	}

	// Divergent snapshot at join time: the local action wins, so a user
	// who just pressed start is not silently discarded by a stale read.
	localCopy := *r.local
	r.state = StateDiverged
	r.reconciled = true
	r.mu.Unlock()

	if err := r.repo.SaveTimer(ctx, roomName, localCopy); err != nil {
		// Dropped, not retried; local state was already the source of truth.
		log.Error().Err(err).Str("room", roomName).Msg("failed to publish local timer over divergent remote")
		return nil
	}

	r.mu.Lock()
	if r.local != nil && r.local.SameAs(localCopy) {
		r.state = StateSynced
	}
	r.mu.Unlock()
	log.Info().Str("room", roomName).Msg("remote timer differed from local, local one wins")
	return nil
}

// publishCandidate writes a timer for a room that has none yet: the local
// timer when one exists, else a zero-duration break placeholder.
func (r *Reconciler) publishCandidate(ctx context.Context, roomName string) error {
	r.mu.Lock()
	var candidate models.Timer
	if r.local != nil {
		candidate = *r.local
	} else {
		candidate = models.NewTimer(0, models.TimerTypeBreak, r.clock.Now())
	}
	r.mu.Unlock()

	if err := r.repo.SaveTimer(ctx, roomName, candidate); err != nil {
		return err
	}

	r.mu.Lock()
	r.adoptLocked(candidate)
	r.mu.Unlock()
	log.Info().Str("room", roomName).Msg("no stored timer existed, published candidate")
	return nil
}

// handleRemote applies an incoming change notification. Fingerprint-equal
// updates are echoes of our own write (or equivalent concurrent writes)
// and are absorbed silently; anything else is a newer shared countdown and
// wins over the local view immediately.
func (r *Reconciler) handleRemote(timer models.Timer) {
	r.mu.Lock()
	if r.local != nil && r.local.SameAs(timer) {
		r.adoptLocked(timer)
		r.mu.Unlock()
		return
	}
	r.adoptLocked(timer)
	roomName := r.roomName
	r.mu.Unlock()

	log.Info().
		Str("room", roomName).
		Str("type", string(timer.Type)).
		Int("duration_seconds", timer.DurationSeconds).
		Msg("adopted timer from remote change")
	if r.hooks.TimerStarted != nil {
		r.hooks.TimerStarted(timer)
	}
}

// adoptLocked installs a timer as the local canonical one. Caller holds mu.
func (r *Reconciler) adoptLocked(timer models.Timer) {
	r.local = &timer
	r.state = StateSynced
	r.reconciled = true
}

// tick recomputes the remaining time and fires the finished hook on the
// not-finished to finished edge.
func (r *Reconciler) tick(now time.Time) {
	r.mu.Lock()
	var left models.TimeLeft
	if r.local != nil {
		left = r.local.TimeLeftAt(now)
	} else {
		left = models.TimeLeft{Finished: true, Type: models.TimerTypeBreak}
	}
	prev := r.timeLeft
	r.timeLeft = left

	var finished *models.Timer
	if r.local != nil && !prev.Finished && left.Finished {
		t := *r.local
		finished = &t
	}
	r.mu.Unlock()

	if finished != nil {
		log.Info().Str("type", string(finished.Type)).Msg("timer finished")
		if r.hooks.TimerFinished != nil {
			r.hooks.TimerFinished(*finished)
		}
	}
}

func (r *Reconciler) isReconciled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconciled
}

// TimeLeft returns the last computed remaining-time view.
func (r *Reconciler) TimeLeft() models.TimeLeft {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeLeft
}

// State returns the current synchronization state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LocalTimer returns the locally adopted timer, if any.
func (r *Reconciler) LocalTimer() (models.Timer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.local == nil {
		return models.Timer{}, false
	}
	return *r.local, true
}
