package redis

import (
	"context"
	"fmt"

	"ragdesk/backend/go/internal/config"

	"github.com/go-redis/redis/v8"
)

// NewClient 初始化并返回一个 Redis 客户端实例，创建后立即执行一次 Ping。
//
// 参数:
//
//	ctx: 上下文，用于控制 Ping 的超时。
//	cfg: Redis 配置。
//
// 返回值:
//
//	*redis.Client: 新创建的客户端。
//	error: 如果无法连接到 Redis，则返回错误。
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}
	return rdb, nil
}

// HealthCheck 检查 Redis 连接的健康状况。
func HealthCheck(ctx context.Context, rdb *redis.Client) error {
	if rdb == nil {
		return fmt.Errorf("Redis 客户端未初始化")
	}
	return rdb.Ping(ctx).Err()
}
