package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Both scripts only touch the key while it still holds the caller's token,
// so a holder whose TTL lapsed cannot release or extend a successor's lock.
var (
	releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// ReleaseIfOwner deletes key when it holds token.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	if c.scripts == nil {
		return false, errNotInitialized
	}
	n, err := releaseIfOwner.Run(ctx, c.scripts, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ExtendIfOwner resets the TTL of key when it holds token.
func (c *Client) ExtendIfOwner(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if c.scripts == nil {
		return false, errNotInitialized
	}
	n, err := extendIfOwner.Run(ctx, c.scripts, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
