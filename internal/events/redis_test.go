package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisPublisherDeliversPayload(t *testing.T) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, TopicInvoiceCreated)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewRedisPublisher(client, zap.NewNop())
	payload := map[string]string{"invoice_id": "42", "invoice_number": "INV-2026-1001"}
	require.NoError(t, publisher.Publish(ctx, TopicInvoiceCreated, payload))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, TopicInvoiceCreated, msg.Channel)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	require.Equal(t, payload, got)
}

func TestNoopPublisher(t *testing.T) {
	publisher := NewNoopPublisher()
	require.NoError(t, publisher.Publish(context.Background(), TopicPaymentChanged, nil))
}
