package agent

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Turn 会话中的一轮发言。
// 助手回答的轮次通过 UsedSectionIDs 记录引用的文档片段。
type Turn struct {
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	UsedSectionIDs []string  `json:"used_section_ids,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationMemory 定义了会话历史存储的接口
type ConversationMemory interface {
	// GetRecent 获取指定会话最近limit轮历史，按时间先后排序。
	// limit<=0时返回全部。会话不存在时返回空切片和nil错误。
	GetRecent(ctx context.Context, conversationID string, limit int) ([]*Turn, error)

	// AppendTurns 向指定会话的历史记录中批量追加轮次。
	AppendTurns(ctx context.Context, conversationID string, turns []*Turn) error

	// Clear 清除指定会话的所有历史记录。
	// 会话不存在时此操作应静默成功。
	Clear(ctx context.Context, conversationID string) error
}

// InMemoryConversationMemory 是 ConversationMemory 接口的内存实现。
// 注意：此实现不是持久化的，仅用于测试和简单场景。
type InMemoryConversationMemory struct {
	// 使用读写锁以支持并发访问
	mu sync.RWMutex
	// histories map 的键是 conversationID，值是该会话的轮次列表
	histories map[string][]*Turn
}

// 确保InMemoryConversationMemory实现了ConversationMemory接口
var _ ConversationMemory = (*InMemoryConversationMemory)(nil)

// NewInMemoryConversationMemory 创建一个新的内存会话存储实例。
func NewInMemoryConversationMemory() *InMemoryConversationMemory {
	return &InMemoryConversationMemory{
		histories: make(map[string][]*Turn),
	}
}

// GetRecent 实现 ConversationMemory 接口
func (m *InMemoryConversationMemory) GetRecent(ctx context.Context, conversationID string, limit int) ([]*Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	history, ok := m.histories[conversationID]
	if !ok {
		// 会话不存在时返回空切片而不是 nil，方便调用者处理
		return []*Turn{}, nil
	}

	start := 0
	if limit > 0 && len(history) > limit {
		start = len(history) - limit
	}

	// 返回副本，防止外部修改内部存储
	cpy := make([]*Turn, len(history)-start)
	copy(cpy, history[start:])
	return cpy, nil
}

// AppendTurns 实现 ConversationMemory 接口
func (m *InMemoryConversationMemory) AppendTurns(ctx context.Context, conversationID string, turns []*Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	for _, t := range turns {
		if t == nil {
			return fmt.Errorf("会话 %s 的历史记录不允许追加空轮次", conversationID)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.histories[conversationID]; !ok {
		m.histories[conversationID] = make([]*Turn, 0, len(turns))
	}
	m.histories[conversationID] = append(m.histories[conversationID], turns...)
	return nil
}

// Clear 实现 ConversationMemory 接口
func (m *InMemoryConversationMemory) Clear(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.histories, conversationID)
	return nil
}
