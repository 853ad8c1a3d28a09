package events

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisPublisher publishes events on redis pub/sub channels named after
// the topic.
func NewRedisPublisher(client *redis.Client, log *zap.Logger) Publisher {
	return &redisPublisher{
		client: client,
		log:    log.Named("events.redis"),
	}
}

func (p *redisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, topic, body).Err(); err != nil {
		p.log.Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
		return err
	}
	return nil
}
