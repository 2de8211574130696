package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsageGuard gates room creation against monthly caps and accounts used
// minutes. Counters live in Redis and are never cached in-process; every
// reservation hits the store so caps hold across server instances.
type UsageGuard interface {
	// ReserveRoom answers "may one more room be created?" and, if yes,
	// atomically claims the slot.
	ReserveRoom(ctx context.Context) (bool, error)
	// ReleaseRoom undoes a reservation whose room was never persisted.
	ReleaseRoom(ctx context.Context) error
	RecordMinutes(ctx context.Context, minutes int) error
	Usage(ctx context.Context) (rooms, minutes int64, err error)
}

type usageGuard struct {
	client     *redis.Client
	maxRooms   int
	maxMinutes int
	ttl        time.Duration
}

// NewUsageGuard creates a Redis-backed usage guard. A cap of 0 means
// unlimited.
func NewUsageGuard(client *redis.Client, maxRooms, maxMinutes int) UsageGuard {
	return &usageGuard{
		client:     client,
		maxRooms:   maxRooms,
		maxMinutes: maxMinutes,
		ttl:        45 * 24 * time.Hour, // counters outlive their month, then expire
	}
}

func (g *usageGuard) roomsKey() string {
	return fmt.Sprintf("usage:rooms:%s", time.Now().UTC().Format("2006-01"))
}

func (g *usageGuard) minutesKey() string {
	return fmt.Sprintf("usage:minutes:%s", time.Now().UTC().Format("2006-01"))
}

func (g *usageGuard) ReserveRoom(ctx context.Context) (bool, error) {
	if g.maxMinutes > 0 {
		used, err := g.client.Get(ctx, g.minutesKey()).Int64()
		if err != nil && err != redis.Nil {
			return false, err
		}
		if used >= int64(g.maxMinutes) {
			return false, nil
		}
	}

	key := g.roomsKey()
	n, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		g.client.Expire(ctx, key, g.ttl)
	}
	if g.maxRooms > 0 && n > int64(g.maxRooms) {
		g.client.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

func (g *usageGuard) ReleaseRoom(ctx context.Context) error {
	return g.client.Decr(ctx, g.roomsKey()).Err()
}

func (g *usageGuard) RecordMinutes(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return nil
	}
	key := g.minutesKey()
	n, err := g.client.IncrBy(ctx, key, int64(minutes)).Result()
	if err != nil {
		return err
	}
	if n == int64(minutes) {
		g.client.Expire(ctx, key, g.ttl)
	}
	return nil
}

func (g *usageGuard) Usage(ctx context.Context) (int64, int64, error) {
	rooms, err := g.client.Get(ctx, g.roomsKey()).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	minutes, err := g.client.Get(ctx, g.minutesKey()).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	return rooms, minutes, nil
}
