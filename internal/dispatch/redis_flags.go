package dispatch

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisFlags implements AvailabilityFlags on the shared Redis instance the
// external CRUD services read driver availability from.
type RedisFlags struct {
	client *redis.Client
}

func NewRedisFlags(addr, password string) *RedisFlags {
	return &RedisFlags{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func (r *RedisFlags) SetAvailable(ctx context.Context, driverID string, available bool) error {
	return r.client.Set(ctx, flagKey(driverID), strconv.FormatBool(available), 0).Err()
}

func (r *RedisFlags) Close() error { return r.client.Close() }

func flagKey(driverID string) string { return "driver:avail:" + driverID }
