package processor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"hr-agent-go/internal/constants"
	"hr-agent-go/internal/logger"
	"hr-agent-go/internal/storage"
	"hr-agent-go/internal/tracing"
	"hr-agent-go/internal/types"
)

var retrieveTracer = otel.Tracer("hr-agent-go/processor/retriever")

// Retriever 负责把问题变成有序的文档片段列表
type Retriever struct {
	embedder Embedder
	index    storage.VectorIndex
	topK     int
	minScore float32
}

// RetrieverOption Retriever 的配置选项
type RetrieverOption func(*Retriever)

// WithTopK 设置检索返回的片段数量
func WithTopK(topK int) RetrieverOption {
	return func(r *Retriever) {
		if topK > 0 {
			r.topK = topK
		}
	}
}

// WithMinScore 设置相似度分数下限，低于该值的片段被过滤
func WithMinScore(minScore float32) RetrieverOption {
	return func(r *Retriever) {
		if minScore >= 0 {
			r.minScore = minScore
		}
	}
}

// NewRetriever 创建检索器
func NewRetriever(embedder Embedder, index storage.VectorIndex, opts ...RetrieverOption) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("嵌入器不能为空")
	}
	if index == nil {
		return nil, fmt.Errorf("向量索引不能为空")
	}

	r := &Retriever{
		embedder: embedder,
		index:    index,
		topK:     constants.DefaultTopK,
		minScore: constants.DefaultMinScore,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve 检索与问题最相关的片段，按相关性排序并赋予名次。
// 没有任何片段达到分数下限时返回空切片，这是合法结果而不是错误。
func (r *Retriever) Retrieve(ctx context.Context, question string, filter map[string]interface{}) ([]types.RetrievalResult, error) {
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	ctx, span := retrieveTracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retrieve.top_k", r.topK),
		attribute.Float64("retrieve.min_score", float64(r.minScore)),
	)

	vectors, err := r.embedder.EmbedStrings(ctx, []string{question})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: 嵌入结果数量异常(%d)", ErrEmbeddingUnavailable, len(vectors))
	}

	hits, err := r.index.Search(ctx, vectors[0], r.topK, filter)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	results := make([]types.RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < r.minScore {
			continue
		}
		result, ok := resultFromPayload(hit)
		if !ok {
			// 元数据缺失的悬空引用跳过即可，不影响其余结果
			logger.Warn().Str("point_id", hit.ID).Msg("skipping hit with incomplete payload")
			continue
		}
		results = append(results, result)
	}

	// 排序：分数降序，平分时新文档优先，再按片段序号升序
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].IngestedAt.Equal(results[j].IngestedAt) {
			return results[i].IngestedAt.After(results[j].IngestedAt)
		}
		return results[i].SectionIndex < results[j].SectionIndex
	})

	for i := range results {
		results[i].Rank = i + 1
	}

	span.SetAttributes(attribute.Int("retrieve.result_count", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// resultFromPayload 从向量点payload还原检索结果，缺少关键字段时返回false
func resultFromPayload(hit types.VectorHit) (types.RetrievalResult, bool) {
	documentID, ok := hit.Payload[storage.PayloadDocumentID].(string)
	if !ok || documentID == "" {
		return types.RetrievalResult{}, false
	}
	text, ok := hit.Payload[storage.PayloadContentText].(string)
	if !ok || text == "" {
		return types.RetrievalResult{}, false
	}

	sectionIndex, ok := payloadInt(hit.Payload[storage.PayloadSectionIndex])
	if !ok {
		return types.RetrievalResult{}, false
	}

	title, _ := hit.Payload[storage.PayloadDocumentTitle].(string)

	var ingestedAt time.Time
	if raw, ok := hit.Payload[storage.PayloadIngestedAt].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			ingestedAt = t
		}
	}

	return types.RetrievalResult{
		SectionID:     hit.ID,
		DocumentID:    documentID,
		DocumentTitle: title,
		SectionIndex:  sectionIndex,
		Text:          text,
		Score:         hit.Score,
		IngestedAt:    ingestedAt,
	}, true
}

// payloadInt JSON反序列化后的数字是float64，内存索引里是int
func payloadInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
