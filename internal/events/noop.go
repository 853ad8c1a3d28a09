package events

import "context"

type noopPublisher struct{}

// NewNoopPublisher is used when no redis address is configured.
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(ctx context.Context, topic string, payload any) error {
	return nil
}
