// Package config loads process configuration from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/mahaj/chat-gateway/pkg/rooms"
)

const (
	BackendScylla = "scylla"
	BackendMongo  = "mongo"
)

type Store struct {
	Backend        string        `env:"STORE_BACKEND,default=scylla"`
	Timeout        time.Duration `env:"STORE_TIMEOUT,default=5s"`
	ScyllaHosts    string        `env:"SCYLLA_HOSTS,default=localhost:9042"`
	ScyllaKeyspace string        `env:"SCYLLA_KEYSPACE,default=chat"`
	MongoURI       string        `env:"MONGODB_URI,default=mongodb://localhost:27017"`
	MongoDatabase  string        `env:"MONGODB_DATABASE,default=chat"`
	NodeID         int64         `env:"NODE_ID,default=1"`
}

func (s Store) Hosts() []string { return splitList(s.ScyllaHosts) }

type Kafka struct {
	Brokers string `env:"KAFKA_BROKERS,default=localhost:19092"`
	Topic   string `env:"KAFKA_TOPIC,default=chat-messages"`
	GroupID string `env:"KAFKA_GROUP_ID,default=messaging-service-group"`
}

func (k Kafka) BrokerList() []string { return splitList(k.Brokers) }

type Redis struct {
	Addr     string `env:"REDIS_ADDR,default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

type Gateway struct {
	Addr             string        `env:"GATEWAY_ADDR,default=:8080"`
	SecretKey        string        `env:"SECRET_KEY,required=true"`
	LogLevel         string        `env:"LOG_LEVEL,default=info"`
	AwayWindow       time.Duration `env:"AWAY_WINDOW,default=5m"`
	RoomCreatedScope string        `env:"ROOM_CREATED_SCOPE,default=global"`
	MaxMessageSize   int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	SendBuffer       int           `env:"SEND_BUFFER,default=256"`
	AllowedOrigins   string        `env:"ALLOWED_ORIGINS"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	Store Store
	Kafka Kafka
	Redis Redis
}

func (g Gateway) Origins() []string { return splitList(g.AllowedOrigins) }

func (g Gateway) Validate() error {
	if err := g.Store.validate(); err != nil {
		return err
	}
	switch g.RoomCreatedScope {
	case string(rooms.ScopeGlobal), string(rooms.ScopeMembers):
	default:
		return errors.Errorf("ROOM_CREATED_SCOPE must be %q or %q, got %q", rooms.ScopeGlobal, rooms.ScopeMembers, g.RoomCreatedScope)
	}
	if g.AwayWindow <= 0 {
		return errors.New("AWAY_WINDOW must be positive")
	}
	if g.SendBuffer <= 0 {
		return errors.New("SEND_BUFFER must be positive")
	}
	return nil
}

type Messaging struct {
	LogLevel string `env:"LOG_LEVEL,default=info"`

	Store Store
	Kafka Kafka
}

type API struct {
	Addr      string `env:"API_ADDR,default=:8081"`
	SecretKey string `env:"SECRET_KEY,required=true"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`

	Store Store
	Redis Redis
}

func (a API) Validate() error { return a.Store.validate() }

func (s Store) validate() error {
	switch s.Backend {
	case BackendScylla, BackendMongo:
	default:
		return errors.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendScylla, BackendMongo, s.Backend)
	}
	if s.Timeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	return nil
}

// Load fills cfg (a pointer to one of the structs above) from the
// environment.
func Load(cfg any) error {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return errors.Wrap(err, "config")
	}
	if v, ok := cfg.(interface{ Validate() error }); ok {
		return errors.Wrap(v.Validate(), "config")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
