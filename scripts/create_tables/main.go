// Command create_tables applies the Scylla schema and optionally seeds users
// given as id:firstName pairs.
package main

import (
	"context"
	"flag"
	"strings"

	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/config"
	"github.com/mahaj/chat-gateway/pkg/db"
	"github.com/mahaj/chat-gateway/pkg/logger"
	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/snowflake"
	"github.com/mahaj/chat-gateway/pkg/store/scyllastore"
)

func main() {
	seed := flag.String("seed", "", "comma separated id:firstName users to insert")
	flag.Parse()

	var cfg config.Messaging
	if err := config.Load(&cfg); err != nil {
		logger.New("info").Fatal("load config", zap.Error(err))
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	if err := db.EnsureSchema(cfg.Store.Hosts(), cfg.Store.ScyllaKeyspace, cfg.Store.Timeout, log); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}
	if *seed == "" {
		return
	}

	session, err := db.NewSession(cfg.Store.Hosts(), cfg.Store.ScyllaKeyspace, cfg.Store.Timeout, log)
	if err != nil {
		log.Fatal("connect", zap.Error(err))
	}
	defer session.Close()
	ids, err := snowflake.NewNode(cfg.Store.NodeID)
	if err != nil {
		log.Fatal("snowflake node", zap.Error(err))
	}
	st := scyllastore.New(session, ids, log)

	for _, pair := range strings.Split(*seed, ",") {
		id, name, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" {
			log.Warn("skipping malformed seed entry", zap.String("entry", pair))
			continue
		}
		if err := st.PutUser(context.Background(), model.User{ID: id, FirstName: name}); err != nil {
			log.Fatal("seed user", zap.String("user_id", id), zap.Error(err))
		}
		log.Info("seeded user", zap.String("user_id", id), zap.String("first_name", name))
	}
}
