package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlotCache is the short-lived projection of booked start times per provider
// and day. It is read-through with a TTL: writers of truth (the ledger)
// invalidate it, and a stale answer is harmless because Reserve re-checks
// against the database constraint.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	return &SlotCache{
		client: client,
		ttl:    ttl,
	}
}

func slotKey(providerID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("booked:%s:%s", providerID.String(), date.Format("2006-01-02"))
}

// GetBookedSlots returns the cached times and whether the key was present.
func (c *SlotCache) GetBookedSlots(ctx context.Context, providerID uuid.UUID, date time.Time) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, slotKey(providerID, date)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read slot cache: %w", err)
	}

	var times []string
	if err := json.Unmarshal([]byte(raw), &times); err != nil {
		return nil, false, fmt.Errorf("decode slot cache: %w", err)
	}

	return times, true, nil
}

func (c *SlotCache) SetBookedSlots(ctx context.Context, providerID uuid.UUID, date time.Time, times []string) error {
	if times == nil {
		times = []string{}
	}
	raw, err := json.Marshal(times)
	if err != nil {
		return fmt.Errorf("encode slot cache: %w", err)
	}

	if err := c.client.Set(ctx, slotKey(providerID, date), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write slot cache: %w", err)
	}

	return nil
}

func (c *SlotCache) Invalidate(ctx context.Context, providerID uuid.UUID, date time.Time) error {
	if err := c.client.Del(ctx, slotKey(providerID, date)).Err(); err != nil {
		return fmt.Errorf("invalidate slot cache: %w", err)
	}
	return nil
}
