package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/auth"
	"github.com/mahaj/chat-gateway/pkg/backend"
	"github.com/mahaj/chat-gateway/pkg/config"
	"github.com/mahaj/chat-gateway/pkg/conversations"
	"github.com/mahaj/chat-gateway/pkg/db"
	"github.com/mahaj/chat-gateway/pkg/logger"
	"github.com/mahaj/chat-gateway/pkg/presence"
)

func main() {
	var cfg config.API
	if err := config.Load(&cfg); err != nil {
		logger.New("info").Fatal("load config", zap.Error(err))
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, session, err := backend.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer stores.Close()

	// The conversation index always lives in Scylla.
	if session == nil {
		if session, err = db.NewSession(cfg.Store.Hosts(), cfg.Store.ScyllaKeyspace, cfg.Store.Timeout, log); err != nil {
			log.Fatal("connect scylla for conversation index", zap.Error(err))
		}
		defer session.Close()
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	api := &API{
		rooms:    stores.Rooms,
		messages: stores.Messages,
		presence: presence.NewRedisStore(rdb),
		convs:    conversations.NewIndex(session),
		timeout:  cfg.Store.Timeout,
	}
	verifier := auth.NewVerifier([]byte(cfg.SecretKey), stores.Users, cfg.Store.Timeout, log)

	srv := &http.Server{Addr: cfg.Addr, Handler: newEngine(api, verifier, log)}
	go func() {
		log.Info("api listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("api stopped")
}

func newEngine(api *API, v authenticator, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), cors(), requestLog(log))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	api.routes(r.Group("/", authenticate(v)))
	return r
}

func requestLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
		}
		if len(c.Errors) > 0 {
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		log.Debug("request", fields...)
	}
}
