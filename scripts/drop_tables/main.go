package main

import (
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/config"
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

	session, err := db.NewSession(cfg.Store.Hosts(), cfg.Store.ScyllaKeyspace, cfg.Store.Timeout, log)
	if err != nil {
		log.Fatal("connect", zap.Error(err))
	}
	defer session.Close()

	for _, table := range db.Tables {
		log.Info("dropping table", zap.String("table", table))
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatal("drop table", zap.String("table", table), zap.Error(err))
		}
	}
	log.Info("tables dropped")
}
