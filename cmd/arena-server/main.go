package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/quietpawn/arena/internal/config"
	"github.com/quietpawn/arena/internal/auth"
	"github.com/quietpawn/arena/internal/game"
	"github.com/quietpawn/arena/internal/lobby"
	"github.com/quietpawn/arena/internal/msgcat"
	"github.com/quietpawn/arena/internal/obslog"
	"github.com/quietpawn/arena/internal/rating"
	"github.com/quietpawn/arena/internal/server"
	"github.com/quietpawn/arena/internal/store"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer obslog.Sync()

	cat, err := msgcat.New(cfg.MsgTemplateDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	liveStore := store.NewRedisStore(rdb)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := liveStore.Ping(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("redis connect error: %v", err)
	}
	cancelPing()

	repo, err := store.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connect error: %v", err)
	}
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repo.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		log.Fatalf("database schema error: %v", err)
	}
	cancelSchema()

	matches := store.New(liveStore, repo)
	ratings := rating.NewService(repo)
	registry := game.NewRegistry()

	factory := &game.Factory{
		Registry:      registry,
		Store:         matches,
		Ratings:       ratings,
		Catalog:       cat,
		TimeControlMs: cfg.TimeControlMs,
	}

	srv := server.New(server.Deps{
		Verifier:       auth.NewVerifier(cfg.JWTSecret),
		Conns:          lobby.NewConnRegistry(),
		Queue:          lobby.NewQueue(factory, cat),
		Resolver:       lobby.NewResolver(registry, matches, ratings, cat, cfg.TimeControlMs),
		Registry:       registry,
		Catalog:        cat,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("server_listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("server_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = rdb.Close()
	_ = repo.Close()
}
