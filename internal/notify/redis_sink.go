package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/referral-ledger/internal/models"
)

const (
	// PubSubChannel receives every delivered notification
	PubSubChannel       = "notifications"
	defaultInboxListCap = 100
)

// RedisClient is the subset of go-redis used by the sink
type RedisClient interface {
	TxPipeline() redis.Pipeliner
}

// InboxKey is the capped list holding a user's latest notifications, newest first
func InboxKey(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}

// RedisSink pushes notifications into a per-user inbox list and publishes them
type RedisSink struct {
	client  RedisClient
	listCap int64
}

// NewRedisSink creates a Redis sink keeping at most listCap entries per user
func NewRedisSink(client RedisClient, listCap int) *RedisSink {
	if listCap <= 0 {
		listCap = defaultInboxListCap
	}
	return &RedisSink{client: client, listCap: int64(listCap)}
}

// Deliver stores and publishes n in one MULTI/EXEC round trip
func (s *RedisSink) Deliver(ctx context.Context, n *models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := InboxKey(n.UserID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, s.listCap-1)
	pipe.Publish(ctx, PubSubChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}
	return nil
}
