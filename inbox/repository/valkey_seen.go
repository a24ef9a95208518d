package repository

import (
	"context"
	"time"

	"github.com/AzielCF/az-inbox/infrastructure/valkey"
)

// ValkeySeenCache remembers committed message ids so webhook retries are
// answered without touching the database.
type ValkeySeenCache struct {
	client *valkey.Client
	ttl    time.Duration
}

func NewValkeySeenCache(client *valkey.Client, ttl time.Duration) *ValkeySeenCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ValkeySeenCache{client: client, ttl: ttl}
}

func (c *ValkeySeenCache) key(instanceID, messageID string) string {
	return c.client.Key("seen", instanceID, messageID)
}

func (c *ValkeySeenCache) Seen(ctx context.Context, instanceID, messageID string) (string, bool, error) {
	inner := c.client.Inner()
	ticketID, err := inner.Do(ctx, inner.B().Get().Key(c.key(instanceID, messageID)).Build()).ToString()
	if err != nil {
		if valkey.IsNil(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return ticketID, true, nil
}

func (c *ValkeySeenCache) Remember(ctx context.Context, instanceID, messageID, ticketID string) error {
	return c.client.SetWithTTL(ctx, c.key(instanceID, messageID), ticketID, c.ttl)
}
