package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"hr-agent-go/internal/types"
)

// wordCounter 按空白分词计数，让测试可以精确控制token数
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

// vocabEmbedder 按词表词频生成向量的确定性嵌入器。
// 共享关键词的文本向量相似，毫无交集的文本相似度为0。
type vocabEmbedder struct {
	vocab []string
	err   error
}

func newVocabEmbedder(vocab ...string) *vocabEmbedder {
	return &vocabEmbedder{vocab: vocab}
}

func (e *vocabEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := make([]float64, len(e.vocab))
		for j, word := range e.vocab {
			vec[j] = float64(strings.Count(lower, word))
		}
		out[i] = vec
	}
	return out, nil
}

func (e *vocabEmbedder) GetDimensions() int {
	return len(e.vocab)
}

// mapEmbedder 返回预先写死的向量，用于精确控制相似度分数
type mapEmbedder struct {
	vectors   map[string][]float64
	dimension int
}

func (e *mapEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, ok := e.vectors[text]
		if !ok {
			return nil, fmt.Errorf("测试嵌入器没有文本 %q 的向量", text)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *mapEmbedder) GetDimensions() int { return e.dimension }

// scriptedChatModel 按脚本响应的聊天模型。
// 每次Generate消耗一个脚本项，记录收到的消息用于断言。
type scriptedChatModel struct {
	mu       sync.Mutex
	script   []scriptedResponse
	pos      int
	received [][]*schema.Message
}

type scriptedResponse struct {
	content string
	err     error
}

func (m *scriptedChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]*schema.Message, len(messages))
	copy(copied, messages)
	m.received = append(m.received, copied)

	if m.pos >= len(m.script) {
		return nil, fmt.Errorf("脚本已用尽")
	}
	resp := m.script[m.pos]
	m.pos++
	if resp.err != nil {
		return nil, resp.err
	}
	return schema.AssistantMessage(resp.content, nil), nil
}

func (m *scriptedChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("未实现")
}

func (m *scriptedChatModel) lastMessages() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) == 0 {
		return nil
	}
	return m.received[len(m.received)-1]
}

func (m *scriptedChatModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

// passthroughExtractor 把字节原样当作文本返回
type passthroughExtractor struct{}

func (passthroughExtractor) ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error) {
	return "", nil, fmt.Errorf("测试提取器不支持文件路径")
}

func (passthroughExtractor) ExtractFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error) {
	return string(data), map[string]interface{}{"source_uri": uri}, nil
}

// fakeMetaStore MetadataStore 的内存实现
type fakeMetaStore struct {
	mu       sync.Mutex
	docs     map[string]*types.Document
	sections map[string][]*types.Section
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{
		docs:     make(map[string]*types.Document),
		sections: make(map[string][]*types.Section),
	}
}

func (f *fakeMetaStore) ReplaceDocumentSections(ctx context.Context, doc *types.Document, sections []*types.Section) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	f.sections[doc.ID] = sections
	return nil
}

func (f *fakeMetaStore) GetDocument(ctx context.Context, documentID string) (*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return nil, fmt.Errorf("文档不存在: %s", documentID)
	}
	return doc, nil
}

func (f *fakeMetaStore) ListSectionIDs(ctx context.Context, documentID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.sections[documentID]))
	for _, s := range f.sections[documentID] {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (f *fakeMetaStore) DeleteDocument(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, documentID)
	delete(f.sections, documentID)
	return nil
}
