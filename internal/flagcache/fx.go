package flagcache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rollout/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewClient builds the shared redis client from configuration.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func provideStore(client *redis.Client, log *zap.Logger, cfg config.Config) Store {
	return NewStore(client, log, cfg.Cache.TTL)
}

func runSubscriber(lc fx.Lifecycle, sub *Subscriber, client *redis.Client) {
	lc.Append(fx.Hook{
		OnStart: sub.Start,
		OnStop: func(ctx context.Context) error {
			err := sub.Stop(ctx)
			_ = client.Close()
			return err
		},
	})
}

// Module provides the redis-backed flag cache and its invalidation
// subscriber.
var Module = fx.Module("flagcache",
	fx.Provide(NewClient),
	fx.Provide(provideStore),
	fx.Provide(NewSubscriber),
	fx.Invoke(runSubscriber),
)
