package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tomat/internal/config"
	"github.com/mcdev12/tomat/internal/models"
	"github.com/mcdev12/tomat/internal/session"
	"github.com/mcdev12/tomat/internal/store"
	"github.com/mcdev12/tomat/internal/store/memstore"
	"github.com/mcdev12/tomat/internal/store/natskv"
	"github.com/mcdev12/tomat/internal/store/pgstore"
	"github.com/mcdev12/tomat/internal/timersync"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Getenv("TOMAT_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// The room is selected by the first argument, like the path segment
	// in a browser client; absence selects the configured/default room.
	roomName := cfg.Room
	if len(os.Args) > 1 {
		roomName = os.Args[1]
	}
	if roomName == "" {
		roomName = session.DefaultRoomName
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ds, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open document store")
	}
	defer ds.Close()

	user := models.User{Name: cfg.User}
	if user.Name == "" {
		user = models.NewGuestUser()
	}

	hooks := timersync.Hooks{
		TimerStarted: func(t models.Timer) {
			fmt.Print("\a")
			log.Info().Str("type", string(t.Type)).Msg("a participant started a timer")
		},
		TimerFinished: func(t models.Timer) {
			fmt.Print("\a")
			log.Info().Str("type", string(t.Type)).Msg("time is up")
		},
	}

	sess := session.New(ds, user, clockwork.NewRealClock(), cfg.TickInterval, hooks)

	go commandLoop(ctx, stop, sess)
	go renderLoop(ctx, sess, roomName)

	if err := sess.Run(ctx, roomName); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("session ended with error")
		os.Exit(1)
	}
	fmt.Println()
	log.Info().Msg("goodbye")
}

func newStore(ctx context.Context, cfg config.Config) (store.DocumentStore, error) {
	switch cfg.Store.Backend {
	case config.BackendNATS:
		return natskv.New(natskv.Config{
			URL:           cfg.Store.NATS.URL,
			MaxReconnects: cfg.Store.NATS.MaxReconnects,
			ReconnectWait: cfg.Store.NATS.ReconnectWait,
		})
	case config.BackendPostgres:
		return pgstore.New(ctx, cfg.Store.Postgres.DSN())
	case config.BackendMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// renderLoop redraws the countdown line once a second.
func renderLoop(ctx context.Context, sess *session.Session, roomName string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tl := sess.TimeLeft()
			guidance := "You're on a break!"
			if tl.Type == models.TimerTypeWork {
				guidance = "Focus on the task at hand."
			}
			fmt.Printf("\r%s  %-5s  room=%s  here=%d  %s ",
				tl, tl.Type, roomName, len(sess.Users()), guidance)
		}
	}
}

// commandLoop reads start commands from stdin:
// work | break | long | <minutes> | who | quit
func commandLoop(ctx context.Context, stop context.CancelFunc, sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch cmd := strings.TrimSpace(strings.ToLower(scanner.Text())); cmd {
		case "":
		case "work", "w":
			sess.StartWork()
		case "break", "b":
			sess.StartShortBreak()
		case "long", "l":
			sess.StartLongBreak()
		case "who":
			for _, u := range sess.Users() {
				fmt.Println(u.Name)
			}
		case "quit", "q":
			stop()
			return
		default:
			minutes, err := strconv.Atoi(cmd)
			if err != nil || minutes <= 0 {
				fmt.Println("commands: work | break | long | <minutes> | who | quit")
				continue
			}
			sess.StartCustom(minutes)
		}
	}
}
