package processor

import (
	"context"
	"fmt"
	"sync"
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

var ingestTracer = otel.Tracer("hr-agent-go/processor/ingestor")

// IngestResult 摄取完成后的概要
type IngestResult struct {
	DocumentID   string
	SectionCount int
	TextLength   int
}

// Ingestor 负责文档摄取流水线：提取、分块、嵌入、写入索引和元数据。
// 同一文档的并发摄取请求串行执行，避免交叉写入。
type Ingestor struct {
	extractor TextExtractor
	chunker   Chunker
	embedder  Embedder
	index     storage.VectorIndex
	meta      MetadataStore
	batchSize int

	// docLocks 每个文档一把锁
	docLocks sync.Map
}

// IngestorOption Ingestor 的配置选项
type IngestorOption func(*Ingestor)

// WithEmbedBatchSize 设置嵌入请求的批大小
func WithEmbedBatchSize(batchSize int) IngestorOption {
	return func(ing *Ingestor) {
		if batchSize > 0 {
			ing.batchSize = batchSize
		}
	}
}

// NewIngestor 创建摄取器。meta可以为nil，此时只跳过元数据写入；
// 陈旧向量点的清理在索引侧进行，与元数据是否配置无关。
func NewIngestor(extractor TextExtractor, chunker Chunker, embedder Embedder, index storage.VectorIndex, meta MetadataStore, opts ...IngestorOption) (*Ingestor, error) {
	if extractor == nil {
		return nil, fmt.Errorf("文本提取器不能为空")
	}
	if chunker == nil {
		return nil, fmt.Errorf("分块器不能为空")
	}
	if embedder == nil {
		return nil, fmt.Errorf("嵌入器不能为空")
	}
	if index == nil {
		return nil, fmt.Errorf("向量索引不能为空")
	}

	ing := &Ingestor{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		meta:      meta,
		batchSize: constants.DefaultEmbedBatchSize,
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing, nil
}

// lockDocument 获取文档级互斥锁
func (ing *Ingestor) lockDocument(documentID string) *sync.Mutex {
	actual, _ := ing.docLocks.LoadOrStore(documentID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// IngestFile 摄取本地文件
func (ing *Ingestor) IngestFile(ctx context.Context, doc *types.Document, filePath string) (*IngestResult, error) {
	text, metadata, err := ing.extractor.ExtractFromFile(ctx, filePath)
	if err != nil {
		return nil, NewExtractionError(doc.ID, err.Error())
	}
	return ing.ingestText(ctx, doc, text, metadata)
}

// IngestBytes 摄取内存中的文件内容，uri用于判断格式
func (ing *Ingestor) IngestBytes(ctx context.Context, doc *types.Document, data []byte, uri string) (*IngestResult, error) {
	text, metadata, err := ing.extractor.ExtractFromBytes(ctx, data, uri)
	if err != nil {
		return nil, NewExtractionError(doc.ID, err.Error())
	}
	return ing.ingestText(ctx, doc, text, metadata)
}

// IngestText 摄取已提取好的纯文本
func (ing *Ingestor) IngestText(ctx context.Context, doc *types.Document, text string) (*IngestResult, error) {
	return ing.ingestText(ctx, doc, text, nil)
}

// ingestText 摄取流水线主体。重复摄取同一文档时整体替换：
// 新片段先写入，再清理不在新集合中的陈旧向量点，检索端不会看到残留。
func (ing *Ingestor) ingestText(ctx context.Context, doc *types.Document, text string, metadata map[string]interface{}) (*IngestResult, error) {
	if doc == nil || doc.ID == "" {
		return nil, fmt.Errorf("文档ID不能为空")
	}

	ctx, span := ingestTracer.Start(ctx, "Ingestor.IngestDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.id", doc.ID),
		attribute.Int("document.text_length", len(text)),
	)

	mu := ing.lockDocument(doc.ID)
	mu.Lock()
	defer mu.Unlock()

	doc.TextLength = len(text)
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now()
	}
	if metadata != nil {
		if doc.Metadata == nil {
			doc.Metadata = metadata
		} else {
			for k, v := range metadata {
				if _, exists := doc.Metadata[k]; !exists {
					doc.Metadata[k] = v
				}
			}
		}
	}

	chunks, err := ing.chunker.ChunkText(ctx, text)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, NewExtractionError(doc.ID, fmt.Sprintf("分块失败: %v", err))
	}

	// 空文档合法：清理已有向量点并记录0个片段
	if len(chunks) == 0 {
		if err := ing.index.DeleteByDocument(ctx, doc.ID); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return nil, NewIndexError(doc.ID, err.Error())
		}
		if ing.meta != nil {
			if err := ing.meta.ReplaceDocumentSections(ctx, doc, nil); err != nil {
				tracing.RecordError(span, err, tracing.ErrorTypeDB)
				return nil, NewMetadataError(doc.ID, err.Error())
			}
		}
		logger.Info().Str("document_id", doc.ID).Msg("document ingested with no sections")
		span.SetStatus(codes.Ok, "")
		return &IngestResult{DocumentID: doc.ID, SectionCount: 0, TextLength: len(text)}, nil
	}

	sections := make([]*types.Section, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		sections = append(sections, &types.Section{
			ID:          storage.SectionPointID(doc.ID, i),
			DocumentID:  doc.ID,
			Index:       i,
			Text:        chunk.Text,
			StartOffset: chunk.StartOffset,
			EndOffset:   chunk.EndOffset,
			TokenCount:  chunk.TokenCount,
		})
		texts = append(texts, chunk.Text)
	}

	vectors, err := ing.embedBatched(ctx, texts)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, NewEmbeddingError(doc.ID, err.Error())
	}

	points := make([]types.VectorPoint, 0, len(sections))
	newIDs := make([]string, 0, len(sections))
	for i, s := range sections {
		newIDs = append(newIDs, s.ID)
		points = append(points, types.VectorPoint{
			ID:     s.ID,
			Vector: vectors[i],
			Payload: map[string]interface{}{
				storage.PayloadDocumentID:    doc.ID,
				storage.PayloadDocumentTitle: doc.Title,
				storage.PayloadSectionIndex:  s.Index,
				storage.PayloadContentText:   s.Text,
				storage.PayloadIngestedAt:    doc.IngestedAt.UTC().Format(time.RFC3339),
				storage.PayloadCategory:      doc.Category,
				storage.PayloadOwnerID:       doc.OwnerID,
			},
		})
	}

	if err := ing.index.Upsert(ctx, points); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, NewIndexError(doc.ID, err.Error())
	}

	// 新点写入后清理上一版本多出来的陈旧点，检索端不会看到残留
	if err := ing.index.DeleteByDocumentExcept(ctx, doc.ID, newIDs); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, NewIndexError(doc.ID, fmt.Sprintf("清理陈旧向量点失败: %v", err))
	}

	if ing.meta != nil {
		if err := ing.meta.ReplaceDocumentSections(ctx, doc, sections); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return nil, NewMetadataError(doc.ID, err.Error())
		}
	}

	logger.Info().
		Str("document_id", doc.ID).
		Int("section_count", len(sections)).
		Int("text_length", len(text)).
		Msg("document ingested")

	span.SetAttributes(attribute.Int("document.section_count", len(sections)))
	span.SetStatus(codes.Ok, "")
	return &IngestResult{
		DocumentID:   doc.ID,
		SectionCount: len(sections),
		TextLength:   len(text),
	}, nil
}

// DeleteDocument 删除文档的向量点和元数据
func (ing *Ingestor) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("文档ID不能为空")
	}

	mu := ing.lockDocument(documentID)
	mu.Lock()
	defer mu.Unlock()

	if err := ing.index.DeleteByDocument(ctx, documentID); err != nil {
		return NewIndexError(documentID, err.Error())
	}
	if ing.meta != nil {
		if err := ing.meta.DeleteDocument(ctx, documentID); err != nil {
			return NewMetadataError(documentID, err.Error())
		}
	}
	return nil
}

// embedBatched 按批调用嵌入服务，保持与输入相同的顺序
func (ing *Ingestor) embedBatched(ctx context.Context, texts []string) ([][]float64, error) {
	batchSize := ing.batchSize
	if batchSize <= 0 {
		batchSize = constants.DefaultEmbedBatchSize
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := ing.embedder.EmbedStrings(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("嵌入第%d批文本失败: %w", start/batchSize+1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("嵌入结果数量(%d)与输入数量(%d)不一致", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}
