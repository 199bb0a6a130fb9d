package util

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only when it still holds our lease value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Deduper hands out short-lived Redis leases keyed by scope+key. It is a
// coarse cross-instance guard; correctness still rests on the database.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to take the lease for scope+key.
// ok is false when another holder owns it. release must be called by the holder.
func (d *Deduper) AcquireOnce(ctx context.Context, scope, key string) (release func(context.Context), ok bool) {
	redisKey := fmt.Sprintf("dedup:%s:%s", scope, key)
	lease := uuid.NewString()

	acquired, err := d.rdb.SetNX(ctx, redisKey, lease, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理，数据库唯一约束兜底
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("scope", scope),
			zap.String("key", key),
			zap.Error(err),
		)
		return func(context.Context) {}, true
	}

	if !acquired {
		d.logger.Info("Skipped duplicated run",
			zap.String("scope", scope),
			zap.String("dedup_key", redisKey),
		)
		return nil, false
	}

	return func(ctx context.Context) {
		if err := releaseScript.Run(ctx, d.rdb, []string{redisKey}, lease).Err(); err != nil {
			d.logger.Warn("Failed to release dedup lease",
				zap.String("dedup_key", redisKey),
				zap.Error(err),
			)
		}
	}, true
}
