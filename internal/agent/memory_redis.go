package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hr-agent-go/internal/constants"
)

// RedisConversationMemory 实现了 ConversationMemory 接口，使用 Redis 作为持久化存储。
type RedisConversationMemory struct {
	redisClient *redis.Client
	keyPrefix   string
	// ttl 会话历史的过期时间，0表示不过期
	ttl time.Duration
}

// 确保RedisConversationMemory实现了ConversationMemory接口
var _ ConversationMemory = (*RedisConversationMemory)(nil)

// NewRedisConversationMemory 创建一个新的 RedisConversationMemory 实例。
// redisClient: 一个已连接和配置好的 go-redis 客户端实例。
// ttl: 会话历史在 Redis 中的可选过期时间，0表示不过期。
func NewRedisConversationMemory(redisClient *redis.Client, ttl time.Duration) (*RedisConversationMemory, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis客户端不能为空")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	return &RedisConversationMemory{
		redisClient: redisClient,
		keyPrefix:   constants.ConversationHistoryKeyPrefix,
		ttl:         ttl,
	}, nil
}

// buildKey 为给定的 conversationID 构建 Redis 键。
func (rcm *RedisConversationMemory) buildKey(conversationID string) string {
	return rcm.keyPrefix + conversationID
}

// GetRecent 实现 ConversationMemory 接口
func (rcm *RedisConversationMemory) GetRecent(ctx context.Context, conversationID string, limit int) ([]*Turn, error) {
	key := rcm.buildKey(conversationID)

	// 只取List尾部最近limit条，limit<=0时取全部
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	serialized, err := rcm.redisClient.LRange(ctx, key, start, -1).Result()
	if errors.Is(err, redis.Nil) {
		return []*Turn{}, nil // Key 不存在，返回空历史
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话 %s 的历史记录失败: %w", conversationID, err)
	}

	turns := make([]*Turn, 0, len(serialized))
	for _, s := range serialized {
		var turn Turn
		if err := json.Unmarshal([]byte(s), &turn); err != nil {
			return nil, fmt.Errorf("反序列化会话 %s 的轮次失败: %w", conversationID, err)
		}
		turns = append(turns, &turn)
	}
	return turns, nil
}

// AppendTurns 实现 ConversationMemory 接口
func (rcm *RedisConversationMemory) AppendTurns(ctx context.Context, conversationID string, turns []*Turn) error {
	if len(turns) == 0 {
		return nil
	}
	key := rcm.buildKey(conversationID)

	// 使用事务Pipeline保证追加和续期的原子性
	pipe := rcm.redisClient.TxPipeline()
	for _, turn := range turns {
		if turn == nil {
			return fmt.Errorf("会话 %s 的历史记录不允许追加空轮次", conversationID)
		}
		serialized, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("序列化会话 %s 的轮次失败: %w", conversationID, err)
		}
		pipe.RPush(ctx, key, serialized)
	}

	if rcm.ttl > 0 {
		pipe.Expire(ctx, key, rcm.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("追加会话 %s 的历史记录失败: %w", conversationID, err)
	}
	return nil
}

// Clear 实现 ConversationMemory 接口
func (rcm *RedisConversationMemory) Clear(ctx context.Context, conversationID string) error {
	key := rcm.buildKey(conversationID)

	// Key不存在时Del返回0且err为nil，无需特殊处理
	if err := rcm.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("清除会话 %s 的历史记录失败: %w", conversationID, err)
	}
	return nil
}
