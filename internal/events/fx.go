package events

import (
	"context"

	"github.com/Torqvoice/torqvoice-sub001/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type PublisherParam struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
}

func NewPublisher(p PublisherParam) Publisher {
	if p.Cfg.RedisAddr == "" {
		p.Log.Info("events publisher disabled, no redis address configured")
		return NewNoopPublisher()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.RedisAddr,
		Password: p.Cfg.RedisPassword,
	})
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	p.Log.Info("events publisher enabled", zap.String("addr", p.Cfg.RedisAddr))
	return NewRedisPublisher(client, p.Log)
}

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)
