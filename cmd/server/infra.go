package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"trustindex/internal/index/events"
	"trustindex/internal/index/ports"
	"trustindex/internal/index/store"
	"trustindex/internal/index/whitelist"
	"trustindex/internal/platform/config"
	"trustindex/internal/platform/kafka"
	"trustindex/internal/platform/postgres"
	"trustindex/internal/platform/redis"
	httptransport "trustindex/internal/transport/http"
)

// infra holds the process-wide connections and what was built on them.
type infra struct {
	kv        store.KV
	publisher ports.EventPublisher
	health    map[string]httptransport.HealthCheck

	redis *redis.Client
	db    *sql.DB
	kafka *kgo.Client
}

func openInfra(ctx context.Context, cfg *config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{
		publisher: events.NopPublisher{},
		health:    make(map[string]httptransport.HealthCheck),
	}

	switch cfg.Store.Backend {
	case "redis":
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		in.redis = client
		in.kv = store.NewRedisKV(client.Client, store.WithNamespace(cfg.Redis.Namespace))
		in.health["redis"] = client.Health
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		in.db = db
		kv := store.NewPostgresKV(db)
		if err := kv.Migrate(ctx); err != nil {
			in.Close()
			return nil, err
		}
		in.kv = kv
		in.health["postgres"] = db.PingContext
	default:
		in.kv = store.NewMemoryKV()
	}

	if cfg.KafkaEnabled() {
		client, err := kafka.New(cfg.Kafka)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.kafka = client
		if err := kafka.EnsureTopic(ctx, client, cfg.Kafka); err != nil {
			log.WarnContext(ctx, "kafka topic bootstrap failed", "topic", cfg.Kafka.Topic, "error", err)
		}
		pub, err := events.NewKafkaPublisher(client, cfg.Kafka.Topic)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.publisher = pub
		in.health["kafka"] = client.Ping
	}

	return in, nil
}

func (in *infra) Close() {
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}

// loadWhitelist prefers an explicit whitelist file over the built-in table
// for the configured deployment.
func loadWhitelist(cfg config.Index) (*whitelist.Whitelist, error) {
	if cfg.WhitelistFile != "" {
		wl, err := whitelist.Load(cfg.WhitelistFile)
		if err != nil {
			return nil, err
		}
		return wl, nil
	}
	d, err := whitelist.ParseDeployment(cfg.Deployment)
	if err != nil {
		return nil, fmt.Errorf("resolve whitelist: %w", err)
	}
	return whitelist.Resolve(d), nil
}
