package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/cheese-arena/internal/challenge"
	appcfg "github.com/park285/cheese-arena/internal/config"
	"github.com/park285/cheese-arena/internal/coord"
	"github.com/park285/cheese-arena/internal/dispatch"
	"github.com/park285/cheese-arena/internal/game"
	"github.com/park285/cheese-arena/internal/httpapi"
	"github.com/park285/cheese-arena/internal/identity"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/presence"
	"github.com/park285/cheese-arena/internal/profile"
	"github.com/park285/cheese-arena/internal/transport/ws"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "", "path to arena.yaml")
	flag.Parse()

	cfg, err := appcfg.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	msgs, err := msgcat.New(cfg.MessageDir)
	if err != nil {
		logger.Fatal("messages_load_failed", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := coord.NewClient(rootCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_connect_failed", zap.Error(err))
	}
	store := coord.New(rdb, cfg.KeyPrefix)
	// a fresh process owns no rooms
	if n, err := store.Flush(rootCtx); err != nil {
		logger.Fatal("redis_flush_failed", zap.Error(err))
	} else {
		logger.Info("redis_flushed", zap.Int("keys", n))
	}

	repo, err := openRepository(rootCtx, cfg)
	if err != nil {
		logger.Fatal("profile_repo_failed", zap.Error(err))
	}
	persister := profile.NewPersister(repo, cfg.PersistQueue)

	hub := ws.NewHub(cfg.WSSendBuffer)
	tracker := presence.NewTracker(store, hub)

	hooks := game.Hooks{
		OnStart: func(roomID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			tracker.GameStarted(ctx)
		},
		OnTerminate: func(e game.Ended) {
			if !persister.Submit(profile.Outcome{
				RoomID:  e.RoomID,
				Player1: e.Player1.UserID,
				Player2: e.Player2.UserID,
				Score:   e.Outcome.Score,
				Delta1:  e.Outcome.Delta1,
				Delta2:  e.Outcome.Delta2,
			}) {
				logger.Error("outcome_not_persisted", zap.String("room", e.RoomID))
			}
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := store.ReleaseUsers(ctx, e.RoomID, e.Player1.UserID, e.Player2.UserID); err != nil {
				logger.Warn("release_users_failed", zap.String("room", e.RoomID), zap.Error(err))
			}
			tracker.GameEnded(ctx)
		},
		OnCleanup: func(roomID string) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := store.UnregisterRoom(ctx, roomID); err != nil {
				logger.Warn("unregister_room_failed", zap.String("room", roomID), zap.Error(err))
			}
		},
	}
	arena := game.NewArena(hub, hooks, game.Options{TickInterval: cfg.TickInterval, CleanupGrace: cfg.CleanupGrace}, msgs)

	mm := matchmaking.NewManager(store, arena, hub)
	challenges := challenge.NewManager(store, arena, hub, repo)
	resolver := identity.NewResolver(identity.Config{
		Secret:             []byte(cfg.JWTSecret),
		Issuer:             cfg.JWTIssuer,
		Audience:           cfg.JWTAudience,
		AllowExpiredInGame: cfg.AllowExpiredInGame,
	}, repo)

	router := dispatch.NewRouter(dispatch.Deps{
		Identity:    resolver,
		Matchmaking: mm,
		Challenges:  challenges,
		Arena:       arena,
		Presence:    tracker,
		Notify:      hub,
		Messages:    msgs,
		ChatMaxLen:  cfg.ChatMaxLen,
	})

	wsHandler := ws.NewHandler(hub, router, ws.Options{
		PingInterval:   cfg.WSPingInterval,
		AllowedOrigins: cfg.AllowedOrigins,
		OnConnect: func(ctx context.Context, _, clientID string) {
			if _, err := tracker.Connect(ctx, clientID); err != nil {
				logger.Warn("presence_connect_failed", zap.Error(err))
			}
		},
		OnDisconnect: func(ctx context.Context, connID, clientID string) {
			if n := challenges.CancelByConn(ctx, connID); n > 0 {
				logger.Info("challenges_dropped_on_disconnect", zap.String("conn", connID), zap.Int("count", n))
			}
			if _, err := tracker.Disconnect(ctx, clientID); err != nil {
				logger.Warn("presence_disconnect_failed", zap.Error(err))
			}
		},
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			WS:          wsHandler,
			Counters:    tracker,
			Rooms:       arena.ActiveCount,
			Connections: hub.Len,
			Ping:        func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go sweepLoop(rootCtx, mm, cfg.SweepInterval)

	go func() {
		logger.Info("arena_listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_failed", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("arena_shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	arena.Shutdown()
	if err := persister.Close(shutdownCtx); err != nil {
		logger.Warn("persister_drain_incomplete", zap.Error(err))
	}
	_ = repo.Close()
	_ = rdb.Close()
}

// openRepository uses Postgres when a database url is configured and an in-process
// store otherwise.
func openRepository(ctx context.Context, cfg *appcfg.AppConfig) (profile.Repository, error) {
	if cfg.DatabaseURL == "" {
		obslog.L().Warn("profile_repo_in_memory")
		return profile.NewMemoryRepository(cfg.DefaultRating), nil
	}
	repo, err := profile.NewSQLRepository(cfg.DatabaseURL, cfg.DefaultRating)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func sweepLoop(ctx context.Context, mm *matchmaking.Manager, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := mm.Sweep(ctx); n > 0 {
				obslog.L().Info("sweep_paired", zap.Int("rooms", n))
			}
		}
	}
}
