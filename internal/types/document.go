package types

import "time"

// Document 一份已入库的公司文档（政策、手册、FAQ等）
type Document struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Category   string                 `json:"category,omitempty"`
	OwnerID    string                 `json:"owner_id,omitempty"`
	TextLength int                    `json:"text_length"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	IngestedAt time.Time              `json:"ingested_at"`
}

// Section 文档切分后的一个片段。
// Index 是片段在文档内的序号（从0开始），StartOffset/EndOffset 是
// 片段文本在原始文档文本中的字节区间，相邻片段的区间允许重叠。
type Section struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Index       int    `json:"index"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	TokenCount  int    `json:"token_count"`
}

// Chunk 切分器的中间产物，尚未绑定文档身份
type Chunk struct {
	Text        string
	StartOffset int
	EndOffset   int
	TokenCount  int
}

// VectorPoint 向量索引中的一个点
type VectorPoint struct {
	ID      string
	Vector  []float64
	Payload map[string]interface{}
}

// VectorHit 向量索引返回的一条命中记录
type VectorHit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// RetrievalResult 检索编排器解析命中后的结果项
type RetrievalResult struct {
	SectionID     string    `json:"section_id"`
	DocumentID    string    `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	SectionIndex  int       `json:"section_index"`
	Text          string    `json:"text"`
	Score         float32   `json:"score"`
	IngestedAt    time.Time `json:"ingested_at"`
	Rank          int       `json:"rank"`
}

// CitedSection 进入提示词的片段引用信息
type CitedSection struct {
	SectionID     string `json:"section_id"`
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	SectionIndex  int    `json:"section_index"`
	Text          string `json:"text"`
}
