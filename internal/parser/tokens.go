package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 统计文本的token数，切分器和上下文组装器共用
type TokenCounter interface {
	CountTokens(text string) int
}

// TiktokenCounter 基于tiktoken词表的精确计数器
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter 创建tiktoken计数器，model为词表对应的模型名
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("加载tiktoken词表失败(模型 %s): %w", model, err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// CountTokens 实现 TokenCounter 接口
func (t *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// HeuristicTokenCounter 以字符数/4近似token数的计数器。
// 词表不可用（例如离线环境）时作为降级方案。
type HeuristicTokenCounter struct{}

// CountTokens 实现 TokenCounter 接口
func (HeuristicTokenCounter) CountTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

var (
	_ TokenCounter = (*TiktokenCounter)(nil)
	_ TokenCounter = HeuristicTokenCounter{}
)

// NewTokenCounter 优先返回tiktoken计数器，加载失败时降级为启发式计数
func NewTokenCounter(model string) TokenCounter {
	if counter, err := NewTiktokenCounter(model); err == nil {
		return counter
	}
	return HeuristicTokenCounter{}
}
