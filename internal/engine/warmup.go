package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// syncLockTTL ограничивает время, на которое один инстанс забирает синхронизацию L2.
const syncLockTTL = 30 * time.Second

// SyncState приводит L1 (RAM) и L2 (Redis set) к снимку из БД.
// L1 обновляется всегда. L2 переписывает только инстанс, взявший lockKey:
// остальные считают, что его уже синхронизировали.
func SyncState(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	members []string,
	setKey string,
	lockKey string,
	replaceL1 func([]string),
) error {
	replaceL1(members)

	if rdb == nil {
		return nil
	}

	acquired, err := rdb.SetNX(ctx, lockKey, "sync", syncLockTTL).Result()
	if err != nil {
		// Redis недоступен: L1 уже актуален, L2 догонит при переподключении
		logger.Warn("redis sync skipped", zap.String("key", setKey), zap.Error(err))
		return nil
	}
	if !acquired {
		return nil
	}
	defer rdb.Del(context.WithoutCancel(ctx), lockKey)

	// DEL + SADD в MULTI: читатели set'а не увидят его пустым посередине
	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, setKey)
		if len(members) > 0 {
			args := make([]interface{}, len(members))
			for i, m := range members {
				args[i] = m
			}
			pipe.SAdd(ctx, setKey, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync %s: %w", setKey, err)
	}

	logger.Info("redis state synced", zap.String("key", setKey), zap.Int("count", len(members)))
	return nil
}
