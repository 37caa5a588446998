// Package db opens ScyllaDB sessions and owns the CQL schema shared by the
// gateway, the messaging consumer and the read API.
package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string, timeout time.Duration, log *zap.Logger) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = timeout
	cluster.ConnectTimeout = timeout

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, errors.Wrapf(err, "connect scylla keyspace %q", keyspace)
	}

	log.Info("connected to scylla", zap.Strings("hosts", hosts), zap.String("keyspace", keyspace))
	return &Session{Session: session}, nil
}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		first_name text,
		last_name text,
		email text
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id text PRIMARY KEY,
		room_name text,
		created_by text,
		created_by_name text,
		member_ids list<text>,
		member_names list<text>,
		created_at timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS rooms_member_ids ON rooms (values(member_ids))`,
	`CREATE TABLE IF NOT EXISTS rooms_by_name (
		room_name text PRIMARY KEY,
		room_id text,
		claimed_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation text,
		id bigint,
		sender text,
		receiver text,
		room text,
		sender_name text,
		body text,
		type text,
		delivered boolean,
		seen boolean,
		created_at timestamp,
		PRIMARY KEY (conversation, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS message_index (
		id bigint PRIMARY KEY,
		conversation text
	)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		conversation text,
		other_id text,
		last_updated timestamp,
		PRIMARY KEY (user_id, conversation)
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		conversation text,
		unread_count counter,
		PRIMARY KEY (user_id, conversation)
	)`,
}

// Tables lists the schema tables in creation order, for scripts that drop them.
var Tables = []string{"conversation_counters", "user_conversations", "message_index", "messages", "rooms_by_name", "rooms", "users"}

// EnsureSchema creates the keyspace through the system keyspace and then
// every table inside it. All statements are idempotent.
func EnsureSchema(hosts []string, keyspace string, timeout time.Duration, log *zap.Logger) error {
	sys, err := NewSession(hosts, "system", timeout, log)
	if err != nil {
		return err
	}
	err = sys.Query(fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`,
		keyspace)).Exec()
	sys.Close()
	if err != nil {
		return errors.Wrap(err, "create keyspace")
	}

	session, err := NewSession(hosts, keyspace, timeout, log)
	if err != nil {
		return err
	}
	defer session.Close()

	for _, stmt := range tables {
		if err := session.Query(stmt).Exec(); err != nil {
			return errors.Wrapf(err, "apply schema statement %q", firstLine(stmt))
		}
	}
	log.Info("scylla schema ready", zap.String("keyspace", keyspace), zap.Int("statements", len(tables)))
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
