package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"hr-agent-go/internal/config"
)

// ErrNotFound Redis键不存在
var ErrNotFound = redis.Nil

// Redis 会话记忆等场景使用的Redis适配器
type Redis struct {
	client *redis.Client
	cfg    *config.RedisConfig
}

// NewRedis 创建Redis客户端，配置连接池并启用追踪
func NewRedis(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("Redis配置不能为空")
	}

	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		options.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		options.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeoutSeconds > 0 {
		options.DialTimeout = time.Duration(cfg.DialTimeoutSeconds) * time.Second
	}
	if cfg.ReadTimeoutSeconds > 0 {
		options.ReadTimeout = time.Duration(cfg.ReadTimeoutSeconds) * time.Second
	}
	if cfg.WriteTimeoutSeconds > 0 {
		options.WriteTimeout = time.Duration(cfg.WriteTimeoutSeconds) * time.Second
	}

	client := redis.NewClient(options)

	// 注册OpenTelemetry追踪钩子
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("注册Redis追踪钩子失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	return &Redis{client: client, cfg: cfg}, nil
}

// Client 返回底层go-redis客户端
func (r *Redis) Client() *redis.Client {
	return r.client
}

// HistoryTTL 会话历史的过期时间，0表示不过期
func (r *Redis) HistoryTTL() time.Duration {
	if r.cfg.HistoryTTLHours <= 0 {
		return 0
	}
	return time.Duration(r.cfg.HistoryTTLHours) * time.Hour
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	return r.client.Close()
}
