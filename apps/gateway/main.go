package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/auth"
	"github.com/mahaj/chat-gateway/pkg/backend"
	"github.com/mahaj/chat-gateway/pkg/config"
	"github.com/mahaj/chat-gateway/pkg/events"
	"github.com/mahaj/chat-gateway/pkg/gateway"
	"github.com/mahaj/chat-gateway/pkg/logger"
	"github.com/mahaj/chat-gateway/pkg/presence"
	"github.com/mahaj/chat-gateway/pkg/rooms"
)

const mirrorQueueSize = 1024

func main() {
	var cfg config.Gateway
	if err := config.Load(&cfg); err != nil {
		logger.New("info").Fatal("load config", zap.Error(err))
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, _, err := backend.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer stores.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// The registry starts empty, so anything mirrored by a previous run is stale.
	statuses := presence.NewRedisStore(rdb)
	if err := statuses.Reset(ctx); err != nil {
		log.Warn("presence mirror reset failed", zap.Error(err))
	}
	mirror := presence.NewMirror(statuses, mirrorQueueSize, cfg.Store.Timeout, log)
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	mirrorDone := make(chan struct{})
	go func() {
		mirror.Run(mirrorCtx)
		close(mirrorDone)
	}()

	journal := events.NewJournal(cfg.Kafka.BrokerList(), cfg.Kafka.Topic, log)

	hub := gateway.NewHub(log)
	registry := presence.NewRegistry(log,
		presence.WithAwayWindow(cfg.AwayWindow),
		presence.WithListener(presence.ListenerFunc(hub.PresenceListener())),
		presence.WithListener(mirror),
	)
	roomsSvc := rooms.NewService(stores.Rooms, stores.Users, hub, rooms.Scope(cfg.RoomCreatedScope), cfg.Store.Timeout, log)
	router := gateway.NewRouter(hub, registry, roomsSvc, stores.Messages, cfg.Store.Timeout, log, gateway.WithJournal(journal))
	verifier := auth.NewVerifier([]byte(cfg.SecretKey), stores.Users, cfg.Store.Timeout, log)

	srv := NewServer(context.Background(), cfg, verifier, router, hub, log)
	httpSrv := &http.Server{Addr: cfg.Addr, Handler: srv.Handler()}

	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store.Backend))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := srv.CloseAll(shutdownCtx); err != nil {
		log.Warn("connections still open at shutdown", zap.Error(err))
	}
	if err := journal.Close(); err != nil {
		log.Warn("journal flush", zap.Error(err))
	}
	stopMirror()
	<-mirrorDone
	log.Info("gateway stopped")
}
