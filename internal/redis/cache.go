package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

// SlotCache stores computed slot lists under
// slots:<clinic>:<doctor>:<date>:<duration>.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	return &SlotCache{client: client, ttl: ttl}
}

func slotKey(k availability.SlotKey) string {
	return fmt.Sprintf("slots:%s:%s:%s:%d", k.ClinicID, k.DoctorID, timerange.FormatDate(k.Date), k.DurationMin)
}

func (c *SlotCache) Get(ctx context.Context, key availability.SlotKey) ([]availability.Slot, bool, error) {
	data, err := c.client.Get(ctx, slotKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached slots: %w", err)
	}

	var slots []availability.Slot
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, false, fmt.Errorf("decode cached slots: %w", err)
	}
	return slots, true, nil
}

func (c *SlotCache) Set(ctx context.Context, key availability.SlotKey, slots []availability.Slot) error {
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	if err := c.client.Set(ctx, slotKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache slots: %w", err)
	}
	return nil
}

// InvalidateDay drops every cached duration for a doctor's day.
func (c *SlotCache) InvalidateDay(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	return c.deleteMatching(ctx, fmt.Sprintf("slots:*:%s:%s:*", doctorID, timerange.FormatDate(date)))
}

func (c *SlotCache) InvalidateDoctor(ctx context.Context, doctorID uuid.UUID) error {
	return c.deleteMatching(ctx, fmt.Sprintf("slots:*:%s:*", doctorID))
}

func (c *SlotCache) InvalidateClinic(ctx context.Context, clinicID uuid.UUID) error {
	return c.deleteMatching(ctx, fmt.Sprintf("slots:%s:*", clinicID))
}

func (c *SlotCache) deleteMatching(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete cached slots: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached slots: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete cached slots: %w", err)
		}
	}
	return nil
}
