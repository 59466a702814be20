package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"hr-agent-go/internal/types"
)

// MemoryIndex VectorIndex 的内存实现。
// 用于测试和不依赖外部Qdrant的本地运行，暴力余弦检索。
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]types.VectorPoint
}

// 确保MemoryIndex实现了VectorIndex接口
var _ VectorIndex = (*MemoryIndex)(nil)

// NewMemoryIndex 创建内存索引，dimension<=0时由首次写入决定维度
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		points:    make(map[string]types.VectorPoint),
	}
}

// Upsert 写入或覆盖一批向量点
func (m *MemoryIndex) Upsert(ctx context.Context, points []types.VectorPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range points {
		if m.dimension <= 0 {
			m.dimension = len(p.Vector)
		}
		if len(p.Vector) != m.dimension {
			return fmt.Errorf("向量维度(%d)与索引维度(%d)不匹配", len(p.Vector), m.dimension)
		}
		// 拷贝向量，防止调用方后续修改底层数组
		vec := make([]float64, len(p.Vector))
		copy(vec, p.Vector)
		stored := types.VectorPoint{ID: p.ID, Vector: vec, Payload: p.Payload}
		m.points[p.ID] = stored
	}
	return nil
}

// Delete 按点ID删除，不存在的ID静默忽略
func (m *MemoryIndex) Delete(ctx context.Context, pointIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range pointIDs {
		delete(m.points, id)
	}
	return nil
}

// DeleteByDocument 删除payload中document_id匹配的全部点
func (m *MemoryIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.points {
		if docID, ok := p.Payload[PayloadDocumentID].(string); ok && docID == documentID {
			delete(m.points, id)
		}
	}
	return nil
}

// DeleteByDocumentExcept 删除某文档中点ID不在keepIDs里的点
func (m *MemoryIndex) DeleteByDocumentExcept(ctx context.Context, documentID string, keepIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.points {
		if _, kept := keep[id]; kept {
			continue
		}
		if docID, ok := p.Payload[PayloadDocumentID].(string); ok && docID == documentID {
			delete(m.points, id)
		}
	}
	return nil
}

// Search 暴力余弦相似度top-k检索
func (m *MemoryIndex) Search(ctx context.Context, queryVector []float64, limit int, filter map[string]interface{}) ([]types.VectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension > 0 && len(queryVector) != m.dimension {
		return nil, fmt.Errorf("查询向量维度(%d)与索引维度(%d)不匹配", len(queryVector), m.dimension)
	}

	hits := make([]types.VectorHit, 0, len(m.points))
	for _, p := range m.points {
		if !payloadMatches(p.Payload, filter) {
			continue
		}
		score := cosineSimilarity(queryVector, p.Vector)
		hits = append(hits, types.VectorHit{
			ID:      p.ID,
			Score:   float32(score),
			Payload: p.Payload,
		})
	}

	// 分数相同时按点ID排序，保证结果确定性
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len 返回当前点数，仅测试使用
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// payloadMatches 等值过滤
func payloadMatches(payload, filter map[string]interface{}) bool {
	for key, want := range filter {
		got, ok := payload[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// cosineSimilarity 计算两个向量的余弦相似度，零向量返回0
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
