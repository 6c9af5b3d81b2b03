package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const roomCodeKeyPrefix = "room:"

// releaseScript deletes the key only while it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type CodeReservation interface {
	Reserve(ctx context.Context, code string) (bool, error)
	Release(ctx context.Context, code string) error
}

type dbCodeReservation struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

// NewCodeReservation - room codes claimed in redis by owner, so several instances
// never generate the same code. ttl bounds keys left behind by a crashed instance.
func NewCodeReservation(client *redis.Client, owner string, ttl time.Duration) CodeReservation {
	return &dbCodeReservation{
		client: client,
		owner:  owner,
		ttl:    ttl,
	}
}

func (that *dbCodeReservation) Reserve(ctx context.Context, code string) (bool, error) {
	ok, err := that.client.SetNX(ctx, roomCodeKeyPrefix+code, that.owner, that.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve room code: %w", err)
	}

	return ok, nil
}

func (that *dbCodeReservation) Release(ctx context.Context, code string) error {
	if err := releaseScript.Run(ctx, that.client, []string{roomCodeKeyPrefix + code}, that.owner).Err(); err != nil {
		return fmt.Errorf("failed to release room code: %w", err)
	}

	return nil
}
