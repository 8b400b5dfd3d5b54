package propagation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agentsites/agentsites/internal/shared"
)

var releaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// pushLock keeps two pushes of the same record from running at once.
type pushLock struct {
	client *redis.Client
	ttl    time.Duration
}

// acquire takes the lock for a record. A nil client makes the lock a no-op.
func (l pushLock) acquire(ctx context.Context, recordID uuid.UUID) (func(), error) {
	if l.client == nil {
		return func() {}, nil
	}
	key := shared.PropagationLockKey(recordID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("propagation: acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: record %s is already being pushed", shared.ErrLockHeld, recordID)
	}
	return func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
	}, nil
}
