package processor

import (
	"context"

	"github.com/cloudwego/eino/components/embedding"

	"hr-agent-go/internal/types"
)

// TextExtractor 定义文本提取接口
type TextExtractor interface {
	// ExtractFromFile 从文件中提取纯文本和元数据
	ExtractFromFile(ctx context.Context, filePath string) (string, map[string]interface{}, error)

	// ExtractFromBytes 从字节数据中提取纯文本和元数据，uri用于判断格式
	ExtractFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error)
}

// Chunker 定义文本分块接口
type Chunker interface {
	// ChunkText 将纯文本切分为带偏移量和token数的语义块
	ChunkText(ctx context.Context, text string) ([]types.Chunk, error)
}

// Embedder 定义向量嵌入接口，在eino嵌入接口基础上暴露维度
type Embedder interface {
	embedding.Embedder

	// GetDimensions 返回嵌入向量的维度
	GetDimensions() int
}

// MetadataStore 定义文档元数据存储接口
type MetadataStore interface {
	// ReplaceDocumentSections 原子替换文档及其全部片段记录
	ReplaceDocumentSections(ctx context.Context, doc *types.Document, sections []*types.Section) error

	// GetDocument 读取文档元数据
	GetDocument(ctx context.Context, documentID string) (*types.Document, error)

	// DeleteDocument 删除文档及其全部片段记录
	DeleteDocument(ctx context.Context, documentID string) error
}
