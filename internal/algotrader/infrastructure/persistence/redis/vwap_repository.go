// Package redis 基于 Redis 的 VWAP 分析器仓储，使用 WATCH/MULTI 实现乐观锁
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
)

const keyPrefix = "algotrader:vwap:"

type vwapAnalyticRedisRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewVWAPAnalyticRepository 创建 Redis 版本的分析器仓储
func NewVWAPAnalyticRepository(client redis.UniversalClient) domain.VWAPAnalyticRepository {
	return &vwapAnalyticRedisRepository{client: client, prefix: keyPrefix}
}

func (r *vwapAnalyticRedisRepository) key(symbol string) string {
	return r.prefix + symbol
}

// Save 在 WATCH 保护下比较版本并写入快照；事务被打断视为冲突
func (r *vwapAnalyticRedisRepository) Save(ctx context.Context, analytic *domain.VWAPAnalytic) error {
	key := r.key(analytic.Symbol())
	currentVersion := analytic.Version()

	snapshot := analytic.Snapshot()
	snapshot.Version = currentVersion + 1
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal analytic: %w", err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if currentVersion != 0 {
				return fmt.Errorf("%w: analytic %s", domain.ErrNotFound, analytic.Symbol())
			}
		case err != nil:
			return err
		default:
			var stored domain.VWAPAnalyticSnapshot
			if err := json.Unmarshal(raw, &stored); err != nil {
				return fmt.Errorf("unmarshal analytic: %w", err)
			}
			if currentVersion == 0 || stored.Version != currentVersion {
				return fmt.Errorf("%w: analytic %s version %d, stored %d", domain.ErrConflict, analytic.Symbol(), currentVersion, stored.Version)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: analytic %s modified concurrently", domain.ErrConflict, analytic.Symbol())
	}
	if err != nil {
		return err
	}

	analytic.SetVersion(currentVersion + 1)
	return nil
}

func (r *vwapAnalyticRedisRepository) FindBySymbol(ctx context.Context, symbol string) (*domain.VWAPAnalytic, error) {
	raw, err := r.client.Get(ctx, r.key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: analytic %s", domain.ErrNotFound, symbol)
	}
	if err != nil {
		return nil, err
	}
	var snapshot domain.VWAPAnalyticSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal analytic: %w", err)
	}
	return domain.RestoreVWAPAnalytic(snapshot)
}
