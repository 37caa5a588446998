// Package backend opens the configured durable store.
package backend

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/config"
	"github.com/mahaj/chat-gateway/pkg/db"
	"github.com/mahaj/chat-gateway/pkg/snowflake"
	"github.com/mahaj/chat-gateway/pkg/store"
	"github.com/mahaj/chat-gateway/pkg/store/mongostore"
	"github.com/mahaj/chat-gateway/pkg/store/scyllastore"
)

// Open connects to cfg.Backend. For scylla the returned session is also
// handed back so callers can share it; it is nil for mongo.
func Open(ctx context.Context, cfg config.Store, log *zap.Logger) (*store.Stores, *db.Session, error) {
	switch cfg.Backend {
	case config.BackendScylla:
		ids, err := snowflake.NewNode(cfg.NodeID)
		if err != nil {
			return nil, nil, err
		}
		session, err := db.NewSession(cfg.Hosts(), cfg.ScyllaKeyspace, cfg.Timeout, log)
		if err != nil {
			return nil, nil, err
		}
		return scyllastore.New(session, ids, log).Stores(), session, nil

	case config.BackendMongo:
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to mongo", zap.String("database", cfg.MongoDatabase))
		return s.Stores(), nil, nil
	}
	return nil, nil, errors.Errorf("unknown store backend %q", cfg.Backend)
}
