package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/config"
	"github.com/mahaj/chat-gateway/pkg/conversations"
	"github.com/mahaj/chat-gateway/pkg/db"
	"github.com/mahaj/chat-gateway/pkg/logger"
)

func main() {
	var cfg config.Messaging
	if err := config.Load(&cfg); err != nil {
		logger.New("info").Fatal("load config", zap.Error(err))
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	if err := db.EnsureSchema(cfg.Store.Hosts(), cfg.Store.ScyllaKeyspace, cfg.Store.Timeout, log); err != nil {
		log.Fatal("ensure scylla schema", zap.Error(err))
	}
	session, err := db.NewSession(cfg.Store.Hosts(), cfg.Store.ScyllaKeyspace, cfg.Store.Timeout, log)
	if err != nil {
		log.Fatal("connect scylla", zap.Error(err))
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := NewConsumer(cfg.Kafka.BrokerList(), cfg.Kafka.Topic, cfg.Kafka.GroupID,
		conversations.NewIndex(session), cfg.Store.Timeout, log)
	defer consumer.Close()

	log.Info("messaging consumer starting", zap.String("topic", cfg.Kafka.Topic), zap.String("group", cfg.Kafka.GroupID))
	consumer.Consume(ctx)
	log.Info("messaging consumer stopped")
}
