// Package server holds the state-management core: the write-back caches
// that own users, world, battles and messages; the battle scheduler that
// drives engagements; and the websocket hub that pushes notifications.
package server

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironstar-game/ironstar/locks"
	"github.com/ironstar-game/ironstar/store"
)

// Server is the wired runtime: one lock manager, four caches, the
// scheduler and the notification hub over one store.
type Server struct {
	cfg   Config
	log   zerolog.Logger
	store *store.Store
	locks *locks.Manager

	Users    *UserCache
	World    *WorldCache
	Messages *MessageCache
	Battles  *BattleCache

	Scheduler *Scheduler
	Hub       *Hub

	httpServer *http.Server
	statsStop  chan struct{}
	statsDone  chan struct{}
}

// New wires the runtime. The store stays owned by the server from here on;
// Shutdown closes it.
func New(cfg Config, st *store.Store, logger zerolog.Logger) *Server {
	return NewWithClock(cfg, st, logger, SystemTime{}, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithClock is New with an injected clock and randomness source, for
// deterministic tests.
func NewWithClock(cfg Config, st *store.Store, logger zerolog.Logger, clock TimeProvider, rng *rand.Rand) *Server {
	m := locks.NewManager()
	users := NewUserCache(m, st, clock, cfg, logger)
	world := NewWorldCache(m, st, clock, cfg, logger, rng)
	messages := NewMessageCache(m, st, clock, cfg, logger)
	battles := NewBattleCache(m, st, clock, cfg, logger, users, world)

	users.SetNotifier(func(ctx context.Context, recipientID int64, text string) {
		if _, err := messages.Create(ctx, recipientID, text); err != nil {
			logger.Warn().Err(err).Int64("user", recipientID).Msg("notification failed")
		}
	})

	hub := NewHub(messages, logger)
	sched := NewScheduler(m, battles, users, world, messages, clock, cfg, logger, rng)

	return &Server{
		cfg:       cfg,
		log:       logger,
		store:     st,
		locks:     m,
		Users:     users,
		World:     world,
		Messages:  messages,
		Battles:   battles,
		Scheduler: sched,
		Hub:       hub,
	}
}

// Start loads the world and launches the background machinery: persistence
// timers (when enabled), the scheduler, the hub and the websocket listener.
func (s *Server) Start(ctx context.Context) error {
	if err := s.World.Load(ctx); err != nil {
		return err
	}

	if s.cfg.AutoPersistence {
		s.Users.StartPersistence()
		s.World.StartPersistence()
		s.Messages.StartPersistence()
		s.Battles.StartPersistence()
	}
	s.Hub.Run()
	s.Scheduler.Start()
	if s.cfg.LogStats {
		s.startStatsLoop()
	}

	if s.cfg.Addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", s.Hub.HandleWS)
		s.httpServer = &http.Server{Addr: s.cfg.Addr, Handler: mux}
		go func() {
			s.log.Info().Str("addr", s.cfg.Addr).Msg("listening")
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error().Err(err).Msg("listener failed")
			}
		}()
	}
	return nil
}

func (s *Server) startStatsLoop() {
	s.statsStop = make(chan struct{})
	s.statsDone = make(chan struct{})
	go func() {
		defer close(s.statsDone)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx := context.Background()
				users, usersDirty := s.Users.Stats(ctx)
				battles, battlesDirty := s.Battles.Stats(ctx)
				objects, worldDirty := s.World.Stats(ctx)
				s.log.Info().
					Int("users", users).Int("users_dirty", usersDirty).
					Int("battles", battles).Int("battles_dirty", battlesDirty).
					Int("objects", objects).Bool("world_dirty", worldDirty).
					Msg("cache stats")
			case <-s.statsStop:
				return
			}
		}
	}()
}

// Shutdown stops everything in dependency order and flushes all pending
// state: scheduler first (no new mutations), then listener and hub, then
// each cache with a final flush, then the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Scheduler.Stop()
	if s.statsStop != nil {
		close(s.statsStop)
		<-s.statsDone
		s.statsStop = nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("listener shutdown failed")
		}
	}
	s.Hub.Stop()

	var firstErr error
	for _, closeFn := range []func(context.Context) error{
		s.Battles.Close,
		s.Users.Close,
		s.World.Close,
		s.Messages.Close,
	} {
		if err := closeFn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
